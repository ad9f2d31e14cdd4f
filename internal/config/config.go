package config

import (
	"time"

	"github.com/admitcraft/admitcraft/internal/ailink"
	"github.com/admitcraft/admitcraft/internal/core"
)

// Config represents the complete application configuration.
// Precedence, lowest first: built-in defaults, config file, .env, process
// environment, runtime overrides (CLI flags).
type Config struct {
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Generate  core.Policy     `mapstructure:"generate" yaml:"generate"`
	Upstream  ailink.Config   `mapstructure:"upstream" yaml:"upstream"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ServiceConfig identifies the running service
type ServiceConfig struct {
	// Name is reported by GET /health
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MaxBodyBytes caps request bodies; larger bodies get 413
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`

	// TrustProxyHeaders derives the client address from X-Forwarded-For.
	// Leave off unless a trusted proxy sits in front.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers" yaml:"trust_proxy_headers"`

	// AdminToken enables POST /admin/signal when set
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// RateLimitConfig configures the per-client sliding window
type RateLimitConfig struct {
	Requests      int           `mapstructure:"requests" yaml:"requests" validate:"gt=0"`
	Window        time.Duration `mapstructure:"window" yaml:"window" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled starts the exporter and exposes /metrics on the main port
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated exporter port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() Config {
	if c == nil {
		return Config{}
	}
	out := *c
	out.Upstream.APIKey = redact(out.Upstream.APIKey)
	out.Server.AdminToken = redact(out.Server.AdminToken)
	return out
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[redacted]"
}
