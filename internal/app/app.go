// Package app wires the engine components together and runs the
// service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/keywatch/internal/api"
	"github.com/foxzi/keywatch/internal/config"
	"github.com/foxzi/keywatch/internal/geo"
	"github.com/foxzi/keywatch/internal/identity"
	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/metrics"
	"github.com/foxzi/keywatch/internal/ratelimit"
	"github.com/foxzi/keywatch/internal/report"
	"github.com/foxzi/keywatch/internal/rotation"
	"github.com/foxzi/keywatch/internal/store"
)

// App is the main application.
type App struct {
	config        *config.Config
	store         *store.BoltStore
	apiServer     *api.Server
	metricsServer *metrics.Server
	rotator       *rotation.Rotator
	rateLimiter   *ratelimit.Limiter
	logger        *slog.Logger
}

// New creates a new application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter, err = ratelimit.NewLimiter(st.DB(), cfg.RateLimit.PerReporter)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("report rate limiting enabled",
			"per_hour", cfg.RateLimit.PerReporter.ReportsPerHour,
			"per_day", cfg.RateLimit.PerReporter.ReportsPerDay,
		)
	}

	m := metrics.New()

	resolver := identity.NewResolver(cfg.Identity.KeySalt, nil)

	var limiter report.Limiter
	if rateLimiter != nil {
		limiter = rateLimiter
	}
	ingestor := report.NewIngestor(st, resolver, limiter, logger.With("component", "ingestor"))

	sweeper := lifecycle.Sweeper{NewKeyMaxAge: cfg.Lifecycle.NewKeyMaxAge}

	rotator := rotation.NewRotator(
		st,
		rotation.Schedule(cfg.Rotation.Schedule),
		rotation.Criteria(cfg.Rotation.Criteria),
		logger.With("component", "rotator"),
	)
	rotator.OnPersistFailure = m.RotationPersistFailuresTotal.Inc

	geoCache := geo.NewCache(nil, cfg.Geo.CacheTTL, cfg.Geo.MaxEntries)

	apiServer := api.NewServer(api.ServerOptions{
		Store:    st,
		Ingestor: ingestor,
		Sweeper:  sweeper,
		Rotator:  rotator,
		Geo:      geoCache,
		Metrics:  m,
		Config:   cfg,
		Logger:   logger.With("component", "api"),
	})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			m,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
	}

	return &App{
		config:        cfg,
		store:         st,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		rotator:       rotator,
		rateLimiter:   rateLimiter,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting keywatch",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.config.Storage.Retention.MaxReportAge > 0 {
		go a.retentionLoop(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// retentionLoop periodically prunes old report events.
func (a *App) retentionLoop(ctx context.Context) {
	interval := a.config.Storage.Retention.CleanupInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := a.store.CleanupReports(ctx, a.config.Storage.Retention.MaxReportAge)
			if err != nil {
				a.logger.Error("report cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("old reports pruned", "deleted", deleted)
			}
		}
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Let in-flight best-effort rotation writes finish before closing
	// the store.
	a.rotator.Wait()

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
