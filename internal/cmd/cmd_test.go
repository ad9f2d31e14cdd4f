package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitcraft/admitcraft/internal/ailink"
	"github.com/admitcraft/admitcraft/internal/config"
	"github.com/admitcraft/admitcraft/internal/core"
	apperrors "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server/handlers"
)

func TestMain(m *testing.M) {
	observability.InitCLILogger("admitcraft-test", false)
	os.Exit(m.Run())
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "AdmitCraft API"},
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			MaxBodyBytes: 10 << 20,
		},
		RateLimit: config.RateLimitConfig{
			Requests:      2,
			Window:        time.Hour,
			SweepInterval: time.Minute,
		},
		Generate: core.DefaultPolicy(),
		Upstream: ailink.Config{
			Provider: ailink.ProviderAnthropic,
			Model:    "claude-test",
			BaseURL:  baseURL,
			APIKey:   "sk-test",
		},
		Logging: config.LoggingConfig{Level: "info"},
		Metrics: config.MetricsConfig{Port: 9090},
	}
}

func newTestProxy(t *testing.T, cfg *config.Config) *proxy {
	t.Helper()
	t.Cleanup(handlers.ResetHTTPErrorResponder)

	p, err := newProxy(cfg)
	require.NoError(t, err)
	return p
}

func postGenerate(p *proxy, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4000"
	rec := httptest.NewRecorder()
	p.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewProxyRequiresAPIKey(t *testing.T) {
	cfg := testConfig("https://api.anthropic.com")
	cfg.Upstream.APIKey = ""

	_, err := newProxy(cfg)
	require.ErrorIs(t, err, config.ErrMissingAPIKey)
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(err))
}

func TestNewProxyRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("https://api.anthropic.com")
	cfg.RateLimit.Window = 0

	_, err := newProxy(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RateLimit.Window")
}

func TestProxyRelaysUpstreamReply(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.EqualValues(t, 4000, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"Dear committee"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(upstream.URL))

	rec := postGenerate(p, `{"messages":[{"role":"user","content":"Start my essay"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Dear committee"}],"usage":{"input_tokens":3,"output_tokens":2}}`, rec.Body.String())

	rec = postGenerate(p, `{"messages":[{"role":"user","content":"Again"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postGenerate(p, `{"messages":[{"role":"user","content":"Once more"}]}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, calls, "refused requests never reach upstream")
}

func TestProxyMapsUpstreamThrottle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(upstream.URL))

	rec := postGenerate(p, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "API rate limit", body["error"])
	assert.Equal(t, apperrors.MessageUpstreamThrottle, body["message"])
}

func TestProxyLeavesMessageShapeToUpstream(t *testing.T) {
	var forwarded []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages json.RawMessage `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		forwarded = append(forwarded, string(body.Messages))

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"messages.0.role: Field required"}}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(upstream.URL))

	rec := postGenerate(p, `{"messages":[{"content":"hi","name":"applicant"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.MessageUpstreamRejected, body["message"])

	require.Len(t, forwarded, 1)
	assert.JSONEq(t, `[{"content":"hi","name":"applicant"}]`, forwarded[0])
}

func TestProxyReadinessTracksSweeper(t *testing.T) {
	p := newTestProxy(t, testConfig("https://api.anthropic.com"))

	checks := p.health.RunChecks(context.Background())
	assert.Equal(t, "healthy", checks["upstream_credentials"])
	assert.Equal(t, "healthy", checks["rate_limiter"])
	assert.Equal(t, "unhealthy", checks["sweeper"])
	_, hasTelemetry := checks["telemetry"]
	assert.False(t, hasTelemetry, "telemetry check only registered when metrics are enabled")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.sweeper.Start(ctx))
	defer p.sweeper.Stop()

	checks = p.health.RunChecks(context.Background())
	assert.Equal(t, "healthy", handlers.OverallStatus(checks))
}

func TestFlagOverrides(t *testing.T) {
	c := &cobra.Command{Use: "serve"}
	c.Flags().String("host", "0.0.0.0", "")
	c.Flags().Int("port", 3000, "")
	c.Flags().Bool("trust-proxy", false, "")

	assert.Empty(t, flagOverrides(c))

	require.NoError(t, c.Flags().Set("port", "8088"))
	require.NoError(t, c.Flags().Set("trust-proxy", "true"))

	overrides := flagOverrides(c)
	server, ok := overrides["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 8088, server["port"])
	assert.Equal(t, true, server["trust_proxy_headers"])
	_, hasHost := server["host"]
	assert.False(t, hasHost)
}

func TestHostPort(t *testing.T) {
	cases := map[string]string{
		"https://api.anthropic.com":      "api.anthropic.com:443",
		"https://api.anthropic.com/v1/":  "api.anthropic.com:443",
		"http://localhost":               "localhost:80",
		"http://127.0.0.1:8080/messages": "127.0.0.1:8080",
	}
	for in, want := range cases {
		got, err := hostPort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := hostPort("")
	require.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitCode(0), ExitCodeFor(nil))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(apperrors.NewConfigInvalidError("bad")))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(apperrors.NewInternalError("boom")))
}

func TestExitWithCodeUsesExitFunc(t *testing.T) {
	var code int
	original := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = original })

	ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "bad config", apperrors.NewConfigInvalidError("bad"))

	info, ok := foundry.GetExitCodeInfo(foundry.ExitConfigInvalid)
	require.True(t, ok)
	assert.Equal(t, info.Code, code)
}

func TestInitConfigLoadsAsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv(config.APIKeyEnv, "sk-test")
	t.Setenv(config.PortEnv, "")
	require.NoError(t, os.Unsetenv(config.PortEnv))

	path := filepath.Join(dir, "admitcraft", "config.yaml")
	require.NoError(t, writeInitConfig(path, false))
	require.Error(t, writeInitConfig(path, false), "existing file is kept without --force")
	require.NoError(t, writeInitConfig(path, true))

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 20, cfg.RateLimit.Requests)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Upstream.Model)
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	var out strings.Builder
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	extended = false
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "admitcraft 1.2.3\n", out.String())
}
