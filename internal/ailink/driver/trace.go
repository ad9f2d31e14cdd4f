package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEntry is one upstream exchange. Headers are never recorded, so the
// API key cannot leak into a trace file.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	RequestID   string          `json:"request_id,omitempty"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer appends trace entries to a file as NDJSON.
type Tracer struct {
	mu   sync.Mutex
	file *os.File
}

var (
	activeTracer *Tracer
	tracerMu     sync.Mutex
)

// OpenTracer opens (or creates) path for appending with owner-only access.
func OpenTracer(path string) (*Tracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &Tracer{file: f}, nil
}

// EnableTracing routes every driver trace to path until the returned
// cleanup runs.
func EnableTracing(path string) (func(), error) {
	tracer, err := OpenTracer(path)
	if err != nil {
		return nil, err
	}

	tracerMu.Lock()
	previous := activeTracer
	activeTracer = tracer
	tracerMu.Unlock()

	_ = previous.Close()

	return func() {
		tracerMu.Lock()
		if activeTracer == tracer {
			activeTracer = nil
		}
		tracerMu.Unlock()
		_ = tracer.Close()
	}, nil
}

// IsTracingEnabled returns true if tracing is active.
func IsTracingEnabled() bool {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	return activeTracer != nil
}

// Trace records entry when tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	t := activeTracer
	tracerMu.Unlock()

	t.Write(entry)
}

// Write appends one entry.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	_, _ = t.file.Write(data)
}

// Close closes the trace file. Safe to call more than once.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
