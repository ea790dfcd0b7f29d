package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/metrics"
	"github.com/dgallion1/docchunk/internal/pipeline"
)

// SourceDeleter removes every stored record of a source.
type SourceDeleter interface {
	DeleteSource(ctx context.Context, source string) (int, error)
}

// Server is the HTTP API server for docchunk.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	docs         SourceDeleter
	latency      *metrics.LatencyWindow
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. docs and latency may be
// nil; their endpoints then answer 503.
func NewServer(orch *pipeline.Orchestrator, docs SourceDeleter, latency *metrics.LatencyWindow, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		docs:         docs,
		latency:      latency,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware())
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocchunkAPIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/classify", s.handleClassify)
		r.Post("/api/ingest/directory", s.handleIngestDirectory)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Delete("/api/jobs/{jobID}", s.handleCancelJob)
		r.Get("/api/stats", s.handleStats)

		r.Delete("/api/documents", s.handleDeleteDocuments)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
