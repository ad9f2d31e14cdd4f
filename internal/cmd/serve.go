package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/ailink"
	"github.com/admitcraft/admitcraft/internal/config"
	"github.com/admitcraft/admitcraft/internal/core/engine"
	errwrap "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server"
	"github.com/admitcraft/admitcraft/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
	trustProxy bool
)

// proxy holds every long-lived component the serve command wires together.
type proxy struct {
	cfg     *config.Config
	limiter *engine.RateLimiter
	sweeper *engine.Sweeper
	service *ailink.Service
	health  *handlers.HealthManager
	server  *server.Server
}

// newProxy validates cfg and assembles the proxy. Nothing listens yet.
func newProxy(cfg *config.Config) (*proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limiter := engine.NewRateLimiter(engine.RateLimit{
		RequestsPerWindow: cfg.RateLimit.Requests,
		WindowDuration:    cfg.RateLimit.Window,
	})
	sweeper := engine.NewSweeper(limiter, cfg.RateLimit.SweepInterval)

	service, err := ailink.NewService(cfg.Upstream)
	if err != nil {
		return nil, err
	}

	generate := &handlers.GenerateHandler{
		Limiter:    limiter,
		Generator:  service,
		Policy:     cfg.Generate,
		RetryAfter: limiter.Window(),
	}

	hm := handlers.NewHealthManager(versionInfo.Version)
	p := &proxy{
		cfg:     cfg,
		limiter: limiter,
		sweeper: sweeper,
		service: service,
		health:  hm,
	}
	p.registerCheckers()

	p.server = server.New(server.Options{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ServiceName:       cfg.Service.Name,
		Version:           versionInfo.Version,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MetricsEnabled:    cfg.Metrics.Enabled,
		AdminToken:        cfg.Server.AdminToken,
	}, generate, hm)

	return p, nil
}

func (p *proxy) registerCheckers() {
	p.health.RegisterChecker("upstream_credentials", handlers.CheckerFunc(func(ctx context.Context) error {
		if p.service == nil || p.service.Driver == nil {
			return errwrap.NewConfigInvalidError("upstream provider not configured")
		}
		return nil
	}))

	p.health.RegisterChecker("rate_limiter", handlers.CheckerFunc(func(ctx context.Context) error {
		if p.limiter == nil {
			return errwrap.NewInternalError("rate limiter not initialized")
		}
		return nil
	}))

	p.health.RegisterChecker("sweeper", handlers.CheckerFunc(func(ctx context.Context) error {
		if !p.sweeper.IsRunning() {
			return errwrap.NewServiceUnavailableError("rate limit sweeper not running")
		}
		return nil
	}))

	if p.cfg.Metrics.Enabled {
		p.health.RegisterChecker("telemetry", handlers.CheckerFunc(func(ctx context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy HTTP server",
	Long: `Start the proxy HTTP server with graceful shutdown support.

The upstream API key (ANTHROPIC_API_KEY) is checked before the listener binds.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload configuration (log level applies immediately)

The server will cleanly shut down the HTTP server, stop the rate limit
sweeper and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration: "+err.Error(),
				errwrap.WrapConfigInvalid(ctx, err, "failed to load configuration"))
			return nil
		}

		p, err := newProxy(cfg)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid: "+err.Error(),
				errwrap.WrapConfigInvalid(ctx, err, "configuration invalid"))
			return nil
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Service.Environment)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", cfg.Service.Name),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("model", p.service.Model),
			zap.Int("rate_limit_requests", cfg.RateLimit.Requests),
			zap.Duration("rate_limit_window", cfg.RateLimit.Window),
			zap.Bool("trust_proxy_headers", cfg.Server.TrustProxyHeaders),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

		if err := p.server.Listen(); err != nil {
			return errwrap.WrapInternal(ctx, err, "failed to bind listener")
		}
		metrics.SetServerStartTime(time.Now().Unix())

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		if err := p.sweeper.Start(sweepCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "failed to start rate limit sweeper")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger and close the trace file (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if traceCleanup != nil {
				traceCleanup()
			}
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop the sweeper
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			p.sweeper.Stop()
			observability.ServerLogger.Info("Rate limit sweeper stopped",
				zap.Int("tracked_clients", p.limiter.Len()))
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := p.server.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			reloaded, err := config.Reload(ctx)
			if err != nil {
				observability.ServerLogger.Error("Failed to reload config",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if err := reloaded.Validate(); err != nil {
				observability.ServerLogger.Error("Reloaded config is invalid; keeping current settings",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload rejected")
			}

			if reloaded.Logging.Level != cfg.Logging.Level {
				observability.InitServerLogger(config.AppName, reloaded.Logging.Level, reloaded.Service.Environment)
				cfg.Logging.Level = reloaded.Logging.Level
			}

			// Listener, limiter and upstream settings need a restart to change.
			observability.ServerLogger.Info("Configuration reloaded",
				zap.String("log_level", cfg.Logging.Level))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("addr", p.server.Addr()))
			if err := p.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		// Listen returns once the shutdown handlers have run
		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
				return
			}
			errChan <- nil
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "server port (overrides PORT)")
	serveCmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "derive client address from X-Forwarded-For")
}
