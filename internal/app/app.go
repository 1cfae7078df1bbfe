package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/hookcron/internal/api"
	"github.com/foxzi/hookcron/internal/config"
	"github.com/foxzi/hookcron/internal/db"
	"github.com/foxzi/hookcron/internal/delivery"
	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/ratelimit"
	"github.com/foxzi/hookcron/internal/runner"
	"github.com/foxzi/hookcron/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	store         store.Store
	runner        *runner.Runner
	cleaner       *runner.Cleaner
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	rateLimiter   *ratelimit.Limiter
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	s, err := OpenStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("job store opened", "driver", cfg.Database.Driver, "path", cfg.Database.Path)

	a := &App{
		config: cfg,
		store:  s,
		logger: logger,
	}

	// Metrics must be global before the other components record anything
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
		a.collector = metrics.NewCollector(m, s, cfg.Database.Path, cfg.Metrics.FlushInterval, logger)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	a.runner = NewRunner(cfg, s, logger)
	a.cleaner = runner.NewCleaner(s, runner.CleanerConfig{
		MaxAge:   cfg.Runner.FireRetention,
		Interval: cfg.Runner.CleanupInterval,
	}, logger)

	if cfg.RateLimit.Enabled {
		a.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		})
		logger.Info("rate limiting enabled", "requests_per_minute", cfg.RateLimit.RequestsPerMinute)
	}

	a.apiServer = api.NewServer(s, a.runner, cfg, a.rateLimiter, logger)

	return a, nil
}

// NewRunner builds a runner with the configured delivery client
func NewRunner(cfg *config.Config, s runner.Store, logger *slog.Logger) *runner.Runner {
	client := delivery.NewClient(delivery.Config{
		Timeout:       cfg.Delivery.Timeout,
		UserAgent:     cfg.Delivery.UserAgent,
		SigningSecret: cfg.Delivery.SigningSecret,
		RatePerSecond: cfg.Delivery.RatePerSecond,
		Burst:         cfg.Delivery.Burst,
	})

	return runner.New(s, client, runner.Config{
		Concurrency:      cfg.Runner.Concurrency,
		AdvanceOnFailure: cfg.AdvanceOnFailure(),
		DeliveryTimeout:  cfg.Delivery.Timeout,
	}, logger)
}

// sqliteStore closes the connection along with the repository
type sqliteStore struct {
	*store.JobRepository
	conn *db.DB
}

func (s *sqliteStore) Close() error {
	return s.conn.Close()
}

// OpenStore opens the configured job store. SQLite databases are migrated.
func OpenStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "bolt":
		s, err := store.NewBoltStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return s, nil
	case "sqlite", "":
		conn, err := db.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := conn.Migrate(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &sqliteStore{JobRepository: store.NewJobRepository(conn.DB), conn: conn}, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting hookcron",
		"version", api.Version,
		"api_addr", a.config.Server.ListenAddr,
		"builtin_ticker", a.config.Runner.BuiltinTicker,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.config.Runner.BuiltinTicker {
		a.runner.Start(ctx)
	}
	a.cleaner.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the ticker first so no new sweep starts
	if a.config.Runner.BuiltinTicker {
		a.runner.Stop()
	}
	a.cleaner.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// NewLogger creates a logger writing to w based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
