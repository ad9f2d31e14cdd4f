package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server/handlers"
)

// HandleError central handler for all errors
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes(generate *handlers.GenerateHandler, health *handlers.HealthManager) {
	s.router.Get("/health", handlers.StatusHandler(s.opts.ServiceName))
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)

	if generate != nil {
		s.router.With(middleware.RequestSize(s.opts.MaxBodyBytes)).Post("/generate", generate.ServeHTTP)
	}

	if s.opts.MetricsEnabled {
		s.router.Get("/metrics", MetricsHandler)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally exposes the gofulmen signal endpoint so
// operators can trigger reload/shutdown over HTTP.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
