// Package api exposes the engine over HTTP: public report boundaries
// and the authenticated operator surface.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/keywatch/internal/config"
	"github.com/foxzi/keywatch/internal/geo"
	"github.com/foxzi/keywatch/internal/ipfilter"
	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/metrics"
	"github.com/foxzi/keywatch/internal/report"
	"github.com/foxzi/keywatch/internal/rotation"
	"github.com/foxzi/keywatch/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	store    store.Store
	ingestor *report.Ingestor
	sweeper  lifecycle.Sweeper
	rotator  *rotation.Rotator
	geo      *geo.Cache
	metrics  *metrics.Metrics

	config       *config.APIConfig
	reporterSalt string
	attention    config.AttentionConfig
	popularity   popularityWeights
	adminFilter  *ipfilter.Filter
	logger       *slog.Logger
	startTime    time.Time
}

type popularityWeights struct {
	view     float64
	download float64
}

// ServerOptions bundles the server dependencies.
type ServerOptions struct {
	Store    store.Store
	Ingestor *report.Ingestor
	Sweeper  lifecycle.Sweeper
	Rotator  *rotation.Rotator
	Geo      *geo.Cache
	Metrics  *metrics.Metrics
	Config   *config.Config
	Logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		store:        opts.Store,
		ingestor:     opts.Ingestor,
		sweeper:      opts.Sweeper,
		rotator:      opts.Rotator,
		geo:          opts.Geo,
		metrics:      opts.Metrics,
		config:       &opts.Config.API,
		reporterSalt: opts.Config.Identity.ReporterSalt,
		attention:    opts.Config.Attention,
		popularity: popularityWeights{
			view:     opts.Config.Rotation.ViewWeight,
			download: opts.Config.Rotation.DownloadWeight,
		},
		adminFilter: ipfilter.New(opts.Config.API.AdminAllowedIPs, opts.Logger),
		logger:      opts.Logger,
		startTime:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware(s.metrics))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Public report boundaries
		r.Post("/reports", s.handleSubmitReport)
		r.Post("/reports/check", s.handleCheckReport)
		r.Post("/reports/{id}/renew", s.handleRenewReport)

		// Operator surface
		r.Group(func(r chi.Router) {
			r.Use(s.adminFilter.Middleware)
			r.Use(s.adminAuthMiddleware)

			r.Get("/attention", s.handleAttention)
			r.Get("/featured", s.handleFeatured)
			r.Put("/featured", s.handleSetFeatured)
			r.Get("/programs/{slug}/keys", s.handleProgramKeys)
			r.Patch("/programs/{slug}/keys/{hash}", s.handleOverrideKeyStatus)
			r.Get("/programs/{slug}/recommendations", s.handleRecommendations)
		})
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ErrorResponse is the error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response.
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}
