package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apperrors "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server/handlers"
	servermw "github.com/admitcraft/admitcraft/internal/server/middleware"
)

// DefaultMaxBodyBytes caps request bodies at 10 MB.
const DefaultMaxBodyBytes int64 = 10 << 20

// Options configures the HTTP server
type Options struct {
	Host        string
	Port        int
	ServiceName string
	Version     string

	MaxBodyBytes int64
	// TrustProxyHeaders derives the client address from X-Forwarded-For /
	// X-Real-IP. Only enable behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	MetricsEnabled bool
	AdminToken     string
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new HTTP server instance
func New(opts Options, generate *handlers.GenerateHandler, health *handlers.HealthManager) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "AdmitCraft API"
	}
	if health == nil {
		health = handlers.NewHealthManager(opts.Version)
	}

	r := chi.NewRouter()

	// Proxy headers are only honoured when explicitly trusted; otherwise the
	// socket address identifies the client.
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}

	// RequestID → Metrics → Recovery → CORS
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{servermw.RequestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError(fmt.Sprintf("Route %s %s not found", req.Method, req.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError(fmt.Sprintf("Method %s not allowed for %s", req.Method, req.URL.Path)))
	})

	s := &Server{
		router: r,
		opts:   opts,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes(generate, health)

	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}

	return s
}

// Listen binds the listening socket without serving. Port 0 picks a free port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return nil
}

// Start binds (if needed) and serves until Shutdown. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("service", s.opts.ServiceName),
			zap.String("addr", ln.Addr().String()),
			zap.Int64("max_body_bytes", s.opts.MaxBodyBytes),
			zap.Bool("trust_proxy_headers", s.opts.TrustProxyHeaders))
	}

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once listening, otherwise the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
}

// Port returns the configured port
func (s *Server) Port() int {
	return s.opts.Port
}
