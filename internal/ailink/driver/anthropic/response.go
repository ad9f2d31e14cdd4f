package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/admitcraft/admitcraft/internal/ailink/driver"
)

// messagesResponse keeps content and usage raw; they are relayed verbatim.
type messagesResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Content    json.RawMessage `json:"content"`
	Usage      json.RawMessage `json:"usage"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toDriverResponse(resp *messagesResponse) (*driver.Response, error) {
	if resp == nil || len(resp.Content) == 0 {
		return nil, fmt.Errorf("response has no content")
	}

	usage := resp.Usage
	if len(usage) == 0 {
		usage = json.RawMessage("null")
	}

	return &driver.Response{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Content:    resp.Content,
		Usage:      usage,
	}, nil
}

// errorMessage extracts the provider's error text, falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		if parsed.Error.Type != "" {
			return parsed.Error.Type + ": " + parsed.Error.Message
		}
		return parsed.Error.Message
	}
	return string(body)
}
