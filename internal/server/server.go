// Package server provides the HTTP API for kagami.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/storage"
)

// Ingester embeds and stores a single image.
type Ingester interface {
	IngestOne(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error)
}

// BatchIngester embeds and stores many images with per-item outcomes.
type BatchIngester interface {
	IngestMany(ctx context.Context, reqs []*models.IngestRequest) ([]*models.ItemOutcome, error)
}

// Searcher answers similarity queries.
type Searcher interface {
	Query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
}

// Server is the HTTP server for the kagami API.
type Server struct {
	ingester Ingester
	batch    BatchIngester
	searcher Searcher
	store    storage.Store
	entities keyword.EntityIndex
	config   *config.Config
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEntityIndex enables keyword filters on the entity list and keeps idx in sync with
// entity creates and deletes made through the API.
func WithEntityIndex(idx keyword.EntityIndex) Option {
	return func(s *Server) { s.entities = idx }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ingester Ingester,
	batch BatchIngester,
	searcher Searcher,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingester: ingester,
		batch:    batch,
		searcher: searcher,
		store:    store,
		config:   cfg,
		validate: newValidator(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all routes and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout()))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/hello", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/embeddings", s.handleEmbed)
		r.Post("/embeddings/bulk", s.handleEmbedBulk)
		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Post("/admin/clear", s.handleClear)

		r.Post("/entities", s.handleCreateEntity)
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{id}", s.handleGetEntity)
		r.Delete("/entities/{id}", s.handleDeleteEntity)
		r.Post("/entities/{id}/embed", s.handleEmbedEntity)
	})
	return r
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.Server.RequestTimeout > 0 {
		return s.config.Server.RequestTimeout
	}
	return 60 * time.Second
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs each request through zap once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
