package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitcraft/admitcraft/internal/ailink"
	"github.com/admitcraft/admitcraft/internal/core"
	"github.com/admitcraft/admitcraft/internal/core/engine"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server"
	"github.com/admitcraft/admitcraft/internal/server/handlers"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req ailink.GenerateRequest) (*ailink.GenerateResponse, error) {
	return &ailink.GenerateResponse{
		Content: json.RawMessage(`[{"type":"text","text":"ok"}]`),
		Usage:   json.RawMessage(`{"input_tokens":1,"output_tokens":1}`),
	}, nil
}

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

// newTestServer binds to IPv4 loopback explicitly (avoiding IPv6-only defaults)
// and skips when the sandbox refuses to open sockets.
func newTestServer(t *testing.T, limit engine.RateLimit, metricsEnabled bool) (*httptest.Server, *http.Client) {
	t.Helper()
	t.Cleanup(handlers.ResetHTTPErrorResponder)

	limiter := engine.NewRateLimiter(limit)
	generate := &handlers.GenerateHandler{
		Limiter:    limiter,
		Generator:  stubGenerator{},
		Policy:     core.DefaultPolicy(),
		RetryAfter: limiter.Window(),
	}
	srv := server.New(server.Options{MetricsEnabled: metricsEnabled}, generate, handlers.NewHealthManager("test"))

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func postGenerate(client *http.Client, url string) (int, error) {
	resp, err := client.Post(url+"/generate", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func scrape(t *testing.T, client *http.Client, url string) (string, string) {
	t.Helper()

	resp, err := client.Get(url + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body), resp.Header.Get("Content-Type")
}

func TestMetricsEndpoint_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "test")

	initMetricsOrSkip(t)

	ts, client := newTestServer(t, engine.RateLimit{RequestsPerWindow: 20, WindowDuration: time.Hour}, true)

	const numRequests = 50
	const numWorkers = 10

	requestChan := make(chan int, numRequests)
	for i := 0; i < numRequests; i++ {
		requestChan <- i
	}
	close(requestChan)

	start := time.Now()

	var (
		mu       sync.Mutex
		statuses = map[int]int{}
		wg       sync.WaitGroup
	)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for range requestChan {
				status, err := postGenerate(client, ts.URL)
				if err != nil {
					continue
				}
				mu.Lock()
				statuses[status]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)

	assert.Equal(t, 20, statuses[http.StatusOK], "exactly the window admits")
	assert.Equal(t, 30, statuses[http.StatusTooManyRequests])

	metricsContent, _ := scrape(t, client, ts.URL)
	assert.Contains(t, metricsContent, "test_http_requests_total", "Should have HTTP request metrics")
	assert.Contains(t, metricsContent, "test_http_request_duration_ms", "Should have duration metrics")
	assert.Contains(t, metricsContent, "test_generate_requests_total", "Should have generate outcome metrics")
	assert.Contains(t, metricsContent, "test_rate_limit_rejections_total", "Should count limiter refusals")
	assert.True(t, elapsed < 5*time.Second, "Load test should complete in reasonable time")
	t.Logf("Load test completed: %d requests in %v (%.2f req/s)", numRequests, elapsed, float64(numRequests)/elapsed.Seconds())
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "test")

	initMetricsOrSkip(t)

	ts, client := newTestServer(t, engine.DefaultLimit, true)

	status, err := postGenerate(client, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	metricsContent, contentType := scrape(t, client, ts.URL)
	assert.True(t,
		contentType == "text/plain; version=0.0.4" ||
			contentType == "text/plain; version=0.0.4; charset=utf-8",
		"Expected Prometheus content type, got: %s", contentType)

	lines := strings.Split(strings.TrimSpace(metricsContent), "\n")
	hasValidMetrics := false
	metricLines := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		metricLines++
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			hasValidMetrics = true
		}
	}
	assert.True(t, hasValidMetrics, "Should have valid Prometheus metric lines")
	assert.Greater(t, metricLines, 0, "Should have actual metric values")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info", "test")

	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	// Route registered but no exporter running
	ts, client := newTestServer(t, engine.DefaultLimit, true)

	status, err := postGenerate(client, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Route absent when metrics are off
	ts, client = newTestServer(t, engine.DefaultLimit, false)
	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
