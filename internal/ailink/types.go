package ailink

import (
	"encoding/json"
	"fmt"

	"github.com/admitcraft/admitcraft/internal/ailink/content"
)

// Error codes produced by mapProviderError.
const (
	CodeProviderRateLimit   = "AILINK_PROVIDER_RATE_LIMIT"
	CodeProviderBadRequest  = "AILINK_PROVIDER_BAD_REQUEST"
	CodeProviderAuth        = "AILINK_PROVIDER_AUTH"
	CodeProviderUnavailable = "AILINK_PROVIDER_UNAVAILABLE"
	CodeProviderTimeout     = "AILINK_PROVIDER_TIMEOUT"
	CodeProviderCanceled    = "AILINK_PROVIDER_CANCELED"
	CodeProviderError       = "AILINK_PROVIDER_ERROR"
)

// GenerateRequest is the validated input for one completion.
type GenerateRequest struct {
	Messages  []content.Message
	MaxTokens int
	RequestID string
}

// GenerateResponse is relayed to the caller as-is.
type GenerateResponse struct {
	Content json.RawMessage `json:"content"`
	Usage   json.RawMessage `json:"usage"`
}

// GenerateError is a classified upstream failure. Details carry the raw
// provider text for logs only.
type GenerateError struct {
	Provider   string `json:"provider,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *GenerateError) Error() string {
	if e == nil {
		return "generate error"
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GenerateError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
