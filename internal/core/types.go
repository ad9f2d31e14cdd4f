package core

import (
	"github.com/admitcraft/admitcraft/internal/ailink/content"
)

// Default generation policy.
const (
	DefaultMaxContentLength = 50000
	DefaultMaxTokens        = 4000
)

// GenerateRequest is the decoded body of POST /generate.
type GenerateRequest struct {
	Messages  []content.Message `json:"messages" validate:"required,min=1"`
	MaxTokens *int              `json:"maxTokens,omitempty" validate:"omitnil,min=1"`
}

// Policy bounds what a single generate request may ask for.
type Policy struct {
	MaxContentLength int `mapstructure:"max_content_length" yaml:"max_content_length" validate:"gt=0"`
	DefaultMaxTokens int `mapstructure:"default_max_tokens" yaml:"default_max_tokens" validate:"gt=0"`
}

// DefaultPolicy returns the stock generation policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxContentLength: DefaultMaxContentLength,
		DefaultMaxTokens: DefaultMaxTokens,
	}
}

// ResolveMaxTokens returns the requested token budget or the policy default.
func (r *GenerateRequest) ResolveMaxTokens(policy Policy) int {
	if r != nil && r.MaxTokens != nil {
		return *r.MaxTokens
	}
	if policy.DefaultMaxTokens > 0 {
		return policy.DefaultMaxTokens
	}
	return DefaultMaxTokens
}

// ContentLength is the combined length of all message content.
func (r *GenerateRequest) ContentLength() int {
	if r == nil {
		return 0
	}
	return content.TotalLength(r.Messages)
}
