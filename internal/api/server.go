// Package api exposes the retrieval service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/parentdoc/internal/config"
	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/llm"
	"github.com/dgallion1/parentdoc/internal/pipeline"
	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the part of *rag.Service the handlers use.
type Service interface {
	IngestDocuments(ctx context.Context, docs []doctree.Document) (rag.IngestResult, error)
	Query(ctx context.Context, req rag.QueryRequest) (rag.QueryResult, error)
	DeleteDocument(ctx context.Context, docID string) (int, error)
	Count(ctx context.Context) (int, error)
}

// Server is the HTTP API server for parentdoc.
type Server struct {
	router       chi.Router
	svc          Service
	orchestrator *pipeline.Orchestrator
	meter        llm.Meter
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. orch and meter may be
// nil, which disables uploads and LLM stats respectively.
func NewServer(svc Service, orch *pipeline.Orchestrator, meter llm.Meter, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		svc:          svc,
		orchestrator: orch,
		meter:        meter,
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
	r.Use(CORS(s.cfg.CORSAllowedOrigins))
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}

		r.Post("/documents", s.handleIngestDocuments)
		r.Delete("/documents/{docID}", s.handleDeleteDocument)
		r.Post("/documents/upload", s.handleUpload)
		r.Get("/documents/jobs/{jobID}", s.handleJobStatus)

		r.Post("/query", s.handleQuery)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

// handleHealth reports liveness and the number of stored child chunks. An
// unreachable index makes the check fail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Count(r.Context())
	if err != nil {
		s.log.Warn("health check: count children", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "vector index unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "children": n})
}
