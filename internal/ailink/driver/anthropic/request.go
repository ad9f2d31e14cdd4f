package anthropic

import (
	"fmt"
	"strings"

	"github.com/admitcraft/admitcraft/internal/ailink/content"
	"github.com/admitcraft/admitcraft/internal/ailink/driver"
)

type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []content.Message `json:"messages"`
}

func buildMessagesRequest(req *driver.Request) (*messagesRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	if req.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive")
	}

	return &messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  req.Messages,
	}, nil
}
