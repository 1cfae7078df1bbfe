// Package api serves the job management REST API and the trigger endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/hookcron/internal/config"
	"github.com/foxzi/hookcron/internal/ipfilter"
	"github.com/foxzi/hookcron/internal/metrics"
	"github.com/foxzi/hookcron/internal/ratelimit"
	"github.com/foxzi/hookcron/internal/runner"
	"github.com/foxzi/hookcron/internal/store"
)

// Version is reported by the health endpoint
var Version = "dev"

// Sweeper runs one sweep of due jobs
type Sweeper interface {
	Tick(ctx context.Context, now time.Time) (*runner.SweepResult, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      store.Store
	sweeper    Sweeper
	config     *config.Config
	keys       map[string]string // api key -> owner name
	triggerIPs *ipfilter.Filter
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates a new API server. limiter may be nil to disable per key
// rate limiting.
func NewServer(s store.Store, sw Sweeper, cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	keys := make(map[string]string, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys[k.Key] = k.Name
	}

	srv := &Server{
		router:    chi.NewRouter(),
		store:     s,
		sweeper:   sw,
		config:    cfg,
		keys:      keys,
		limiter:   limiter,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
		now:       time.Now,
	}

	srv.triggerIPs = ipfilter.New(cfg.Auth.TriggerAllowedIPs, srv.logger)

	srv.setupRoutes()
	return srv
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.triggerIPMiddleware)
			r.Use(s.triggerAuthMiddleware)
			r.Get("/trigger", s.handleTrigger)
			r.Post("/trigger", s.handleTrigger)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimitMiddleware)

			r.Get("/health-check", s.handleHealthCheck)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.handleCreateJob)
				r.Get("/", s.handleListJobs)
				r.Get("/{id}", s.handleGetJob)
				r.Put("/{id}", s.handleReplaceJob)
				r.Patch("/{id}", s.handlePatchJob)
				r.Delete("/{id}", s.handleDeleteJob)
				r.Post("/{id}/pause", s.handlePauseJob)
				r.Post("/{id}/resume", s.handleResumeJob)
				r.Get("/{id}/fires", s.handleListFires)
			})
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	cfg := s.config.Server
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", cfg.ListenAddr, "tls", cfg.TLS.Enabled)
	if cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
