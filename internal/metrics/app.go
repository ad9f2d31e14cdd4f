package metrics

import (
	"github.com/admitcraft/admitcraft/internal/observability"
)

// Application-level metric names following Prometheus conventions
const (
	GenerateRequestsTotal    = "generate_requests_total"
	RateLimitRejectionsTotal = "rate_limit_rejections_total"
	RateLimitTrackedClients  = "rate_limit_tracked_clients"
	RateLimitSweepsTotal     = "rate_limit_sweeps_total"
	RateLimitSweptClients    = "rate_limit_swept_clients"
	UpstreamErrorsTotal      = "upstream_errors_total"
	ServerStartTime          = "app_server_start_time_seconds"
)

// Generate outcomes
const (
	OutcomeSuccess           = "success"
	OutcomeInvalid           = "invalid"
	OutcomeThrottled         = "throttled"
	OutcomeUpstreamThrottled = "upstream_throttled"
	OutcomeUpstreamRejected  = "upstream_rejected"
	OutcomeFailed            = "failed"
)

// RecordGenerate records the terminal outcome of one POST /generate call
func RecordGenerate(outcome string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		GenerateRequestsTotal,
		1,
		map[string]string{"outcome": outcome},
	)
}

// RecordRateLimitRejection records a request refused by the local limiter
func RecordRateLimitRejection() {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(RateLimitRejectionsTotal, 1, nil)
}

// RecordSweep records one sweep pass and the limiter size after it
func RecordSweep(removed, remaining int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(RateLimitSweepsTotal, 1, nil)
	_ = observability.TelemetrySystem.Gauge(RateLimitSweptClients, float64(removed), nil)
	_ = observability.TelemetrySystem.Gauge(RateLimitTrackedClients, float64(remaining), nil)
}

// RecordUpstreamError records a failed provider call by mapped code
func RecordUpstreamError(provider, code string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamErrorsTotal,
		1,
		map[string]string{
			"provider": provider,
			"code":     code,
		},
	)
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
}
