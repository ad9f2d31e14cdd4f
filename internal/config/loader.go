// Package config provides centralized configuration management for AdmitCraft.
// Values are layered with viper, lowest precedence first:
// Layer 1: built-in defaults (setDefaults)
// Layer 2: config file (--config, or config.yaml under the XDG app dir or ./config)
// Layer 3: .env, process environment and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName names the XDG config directory
	AppName = "admitcraft"

	// EnvPrefix prefixes every app-specific environment variable
	EnvPrefix = "ADMITCRAFT_"

	// APIKeyEnv carries the upstream credential
	APIKeyEnv = "ANTHROPIC_API_KEY"

	// PortEnv is the conventional platform port variable
	PortEnv = "PORT"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex

	// loadedFile and loadedOverrides remember the last Load inputs so Reload
	// reads the same sources
	loadedFile      string
	loadedOverrides []map[string]any

	// DotEnvFiles are read before the environment is consulted. Missing files
	// are ignored; variables already set in the process win.
	DotEnvFiles = []string{".env"}
)

// EnvVarSpec defines environment variable mappings for config fields
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load builds the configuration from defaults, the config file, the
// environment and any runtime overrides. configFile may be empty, in which
// case the default locations are searched and a missing file is fine.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := loadDotEnv(DotEnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		applyOverrides(v, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	configMu.Lock()
	loadedFile = configFile
	loadedOverrides = runtimeOverrides
	configMu.Unlock()

	setConfig(cfg)

	return cfg, nil
}

// Reload re-reads configuration from the same sources Load used last.
func Reload(ctx context.Context) (*Config, error) {
	configMu.RLock()
	file := loadedFile
	overrides := loadedOverrides
	configMu.RUnlock()

	return Load(ctx, file, overrides...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "AdmitCraft API")
	v.SetDefault("service.environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	// Upstream completions can run for minutes; no write deadline by default
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.admin_token", "")

	// Rate limit defaults
	v.SetDefault("rate_limit.requests", 20)
	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.sweep_interval", "10m")

	// Generate policy defaults
	v.SetDefault("generate.max_content_length", 50000)
	v.SetDefault("generate.default_max_tokens", 4000)

	// Upstream defaults
	v.SetDefault("upstream.provider", "anthropic")
	v.SetDefault("upstream.model", "claude-sonnet-4-20250514")
	v.SetDefault("upstream.base_url", "https://api.anthropic.com")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", "0s")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}

// readConfigFile reads an explicit config file, or searches the default
// locations when none is given.
func readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return nil
	}

	if appConfigDir := gfconfig.GetAppConfigDir(AppName); appConfigDir != "" {
		v.AddConfigPath(appConfigDir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// loadDotEnv loads .env files without overriding variables already present.
func loadDotEnv(files []string) error {
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// applyOverrides sets each leaf of a nested override map at the highest
// viper precedence.
func applyOverrides(v *viper.Viper, overrides map[string]any) {
	flat := make(map[string]any)
	flattenOverrides("", overrides, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v.Set(key, flat[key])
	}
}

func flattenOverrides(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenOverrides(path, nested, out)
			continue
		}
		out[path] = value
	}
}

// getEnvSpecs returns environment variable specifications for config mapping.
// ADMITCRAFT_PORT is listed after PORT so the app-specific name wins.
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	specs := []EnvVarSpec{
		{Name: APIKeyEnv, Path: []string{"upstream", "api_key"}, Type: EnvString},
		{Name: PortEnv, Path: []string{"server", "port"}, Type: EnvInt},

		// Service config
		{Name: prefix + "SERVICE_NAME", Path: []string{"service", "name"}, Type: EnvString},
		{Name: prefix + "ENVIRONMENT", Path: []string{"service", "environment"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "MAX_BODY_BYTES", Path: []string{"server", "max_body_bytes"}, Type: EnvInt},
		{Name: prefix + "TRUST_PROXY_HEADERS", Path: []string{"server", "trust_proxy_headers"}, Type: EnvBool},
		{Name: prefix + "ADMIN_TOKEN", Path: []string{"server", "admin_token"}, Type: EnvString},

		// Rate limit config
		{Name: prefix + "RATE_LIMIT_REQUESTS", Path: []string{"rate_limit", "requests"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_WINDOW", Path: []string{"rate_limit", "window"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_SWEEP_INTERVAL", Path: []string{"rate_limit", "sweep_interval"}, Type: EnvString},

		// Generate policy
		{Name: prefix + "MAX_CONTENT_LENGTH", Path: []string{"generate", "max_content_length"}, Type: EnvInt},
		{Name: prefix + "DEFAULT_MAX_TOKENS", Path: []string{"generate", "default_max_tokens"}, Type: EnvInt},

		// Upstream config
		{Name: prefix + "UPSTREAM_MODEL", Path: []string{"upstream", "model"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_BASE_URL", Path: []string{"upstream", "base_url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_TIMEOUT", Path: []string{"upstream", "timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
	}

	return specs
}
