package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/admitcraft/admitcraft/internal/errors"
)

// StatusResponse is the fixed body of GET /health
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusHandler answers GET /health. It never consults the limiter or the
// upstream, so it stays green while either is degraded.
func StatusHandler(serviceName string) http.HandlerFunc {
	body, _ := json.Marshal(StatusResponse{Status: "ok", Service: serviceName})
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// ProbeResponse represents an individual probe response
type ProbeResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager runs readiness checks against registered components
type HealthManager struct {
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

// CheckerNames lists registered checkers in sorted order
func (hm *HealthManager) CheckerNames() []string {
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks executes all registered checks
func (hm *HealthManager) RunChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	for _, name := range hm.CheckerNames() {
		select {
		case <-ctx.Done():
			checks[name] = "timeout"
			return checks
		default:
			if err := hm.checkers[name].CheckHealth(ctx); err != nil {
				checks[name] = "unhealthy"
			} else {
				checks[name] = "healthy"
			}
		}
	}

	return checks
}

// OverallStatus folds individual results into one status
func OverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}

	if degraded {
		return "degraded"
	}

	return "healthy"
}

// LivenessHandler reports that the process is serving requests
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, ProbeResponse{
		Status:    "healthy",
		Version:   hm.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadinessHandler reports whether every dependency needed by /generate is in place
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.RunChecks(checkCtx)
	status := OverallStatus(checks)

	if status == "unhealthy" {
		envelope := apperrors.NewServiceUnavailableError("readiness probe failed")
		envelope = enrichHealthEnvelope(envelope, "ready", status, checks)
		respondWithError(w, r, envelope)
		return
	}

	writeProbe(w, ProbeResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func writeProbe(w http.ResponseWriter, response ProbeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	contextData := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}
