package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/tenon/internal/adapters/auth"
	"github.com/okian/tenon/internal/adapters/bff"
	"github.com/okian/tenon/internal/adapters/http/api"
	"github.com/okian/tenon/internal/adapters/http/guard"
	"github.com/okian/tenon/internal/adapters/http/site"
	"github.com/okian/tenon/internal/adapters/http/swagger"
	"github.com/okian/tenon/internal/config"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

// HTTP server timeout constants. The write timeout leaves room for a full
// upstream call.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

var errShuttingDown = errors.New("shutting down")

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithHistogramBuckets(cfg.MetricsBuckets),
	)
	reg := metrics.GetRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newHandler(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build handler", logger.Error(err))
		return
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("backend", cfg.BackendBaseURL),
			logger.Bool("auth_configured", cfg.AuthConfigured()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// newHandler wires the BFF: session manager, forwarder, API routes, pages and
// the route guard in front of all of them. Readiness fails once ctx is done.
// A config that could not protect session cookies is refused.
func newHandler(ctx context.Context, cfg *config.Config, log logger.Logger) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sessions := auth.NewManager(cfg, auth.WithLogger(log))
	fwd := bff.New(cfg.BackendBaseURL,
		bff.WithTimeout(cfg.UpstreamTimeout()),
		bff.WithMaxBodyBytes(cfg.MaxUpstreamBodyBytes),
		bff.WithBrand(cfg.BrandSlug),
		bff.WithLogger(log),
	)

	pages, err := site.New(log)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	api.NewServer(sessions, fwd,
		api.WithLogger(log),
		api.WithReady(func(context.Context) error {
			if ctx.Err() != nil {
				return errShuttingDown
			}
			return nil
		}),
	).Register(ctx, mux)
	pages.Register(ctx, mux)
	swagger.Register(ctx, mux)

	return guard.Middleware(sessions, mux), nil
}
