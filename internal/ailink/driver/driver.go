package driver

import (
	"context"
	"encoding/json"

	"github.com/admitcraft/admitcraft/internal/ailink/content"
)

// Driver defines the interface for message completion providers.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "anthropic").
	Name() string
	// Capabilities returns what this driver supports.
	Capabilities() Capabilities
}

// Capabilities describes driver features.
type Capabilities struct {
	SupportsStreaming bool
	SupportedModels   []string
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model     string
	Messages  []content.Message
	MaxTokens int
	// RequestID is forwarded to traces only, never to the provider.
	RequestID string
}

// Response is a provider completion. Content and Usage hold the provider's
// JSON verbatim so callers can relay them without re-encoding.
type Response struct {
	ID         string
	Model      string
	StopReason string
	Content    json.RawMessage
	Usage      json.RawMessage
}
