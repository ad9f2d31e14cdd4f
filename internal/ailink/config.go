package ailink

import "time"

// Config defines the upstream provider configuration.
//
// A single provider and a single credential are supported; the model is
// fixed per process.
type Config struct {
	// Provider is the driver identifier. Only "anthropic" is implemented.
	Provider string `mapstructure:"provider" yaml:"provider" validate:"required,oneof=anthropic"`

	// Model is the provider model id every request is pinned to.
	Model string `mapstructure:"model" yaml:"model" validate:"required"`

	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`

	// APIKey is read from ANTHROPIC_API_KEY. Never logged or serialized.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// Timeout bounds one upstream call. Zero means no client-side timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
}

// ProviderAnthropic is the only supported provider.
const ProviderAnthropic = "anthropic"
