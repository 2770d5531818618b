// Package server provides the HTTP API for Shiryo.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/ingest"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/retrieval"
	"github.com/hyperjump/shiryo/internal/session"
	"github.com/hyperjump/shiryo/internal/storage"
)

// WatchService is the subset of the watcher used by the API. nil disables the watch endpoints.
type WatchService interface {
	AddScope(scope, dir string, rebuildNow bool) error
	RemoveScope(scope string)
	Scopes() map[string]string
}

// Server is the HTTP server for the Shiryo API.
type Server struct {
	facade   *retrieval.Facade
	ingest   *ingest.Service
	manager  *storage.Manager
	sessions *session.Registry
	metrics  *metrics.Metrics
	watch    WatchService
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. m and watch may be nil.
func NewServer(
	facade *retrieval.Facade,
	svc *ingest.Service,
	manager *storage.Manager,
	sessions *session.Registry,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	watch WatchService,
) *Server {
	return &Server{
		facade:   facade,
		ingest:   svc,
		manager:  manager,
		sessions: sessions,
		metrics:  m,
		watch:    watch,
		config:   cfg,
		logger:   logger,
	}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Only retrieval is time-limited; builds run to completion.
		r.With(middleware.Timeout(60*time.Second)).Post("/retrieve", s.handleRetrieve)
		r.Post("/stores/build", s.handleBuildStore)
		r.Get("/stores/stats", s.handleStoreStats)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/papers", s.handleAddPaper)
		r.Post("/sessions/{id}/build", s.handleBuildSession)

		r.Get("/watch", s.handleWatchList)
		r.Post("/watch", s.handleWatchAdd)
		r.Delete("/watch/{id}", s.handleWatchRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
