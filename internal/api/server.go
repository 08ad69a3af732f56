// Package api exposes the ingestion pipeline over HTTP. The surface is
// deliberately thin: handlers validate and translate, the ingest service
// owns all semantics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c2h5ohfu/AetherCell/internal/document"
	"github.com/c2h5ohfu/AetherCell/internal/ingest"
	"github.com/c2h5ohfu/AetherCell/internal/log"
	"github.com/c2h5ohfu/AetherCell/internal/scope"
	"github.com/c2h5ohfu/AetherCell/internal/store"
)

// maxUploadBytes caps multipart parsing memory per request.
const maxUploadBytes = 64 << 20

// Ingestor is the pipeline surface the handlers need.
type Ingestor interface {
	IngestPublic(ctx context.Context, data []byte, filename string, typ document.Type, uploaderID string) (string, error)
	IngestSession(ctx context.Context, data []byte, filename string, typ document.Type, sessionID, uploaderID string) (ingest.SessionResult, error)
	Query(ctx context.Context, text string, sc scope.Scope, k int) ([]ingest.Retrieved, error)
	DeleteBatch(ctx context.Context, batchID string) (int, error)
	DeleteScope(ctx context.Context, sessionID string) (int, error)
	BatchStatus(ctx context.Context, batchID string) (store.Batch, error)
	ListBatches(ctx context.Context) ([]store.Batch, error)
}

// Server is the HTTP API server.
type Server struct {
	ingestor Ingestor
	logger   log.Logger
	router   chi.Router
}

// NewServer builds the router with all routes configured.
func NewServer(ingestor Ingestor, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{ingestor: ingestor, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/knowledge", func(r chi.Router) {
		r.Post("/", s.handleUploadKnowledge)
		r.Get("/", s.handleListBatches)
		r.Get("/{batchID}", s.handleBatchStatus)
		r.Delete("/{batchID}", s.handleDeleteBatch)
	})

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/files", s.handleUploadSessionFile)
		r.Delete("/", s.handleDeleteSession)
	})

	r.Post("/query", s.handleQuery)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
