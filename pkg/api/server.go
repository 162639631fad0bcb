// Package api is the HTTP surface consumed by the admin UI: upload,
// job status/control, search, and read-only conversation views, built
// on a plain net/http.ServeMux plus a CORS middleware wrapper.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/connect-llm/slackcorpus/internal/config"
	"github.com/connect-llm/slackcorpus/pkg/chroma"
	"github.com/connect-llm/slackcorpus/pkg/docstore"
	"github.com/connect-llm/slackcorpus/pkg/embeddings"
	"github.com/connect-llm/slackcorpus/pkg/indexer"
	"github.com/connect-llm/slackcorpus/pkg/jobstore"
	"github.com/connect-llm/slackcorpus/pkg/ollama"
	"github.com/connect-llm/slackcorpus/pkg/pipeline"
	"github.com/connect-llm/slackcorpus/pkg/progress"
	"github.com/connect-llm/slackcorpus/pkg/search"
)

// Server wires the document store, vector store, job store, pipeline
// controller, and search engine behind one HTTP handler.
type Server struct {
	cfg      *config.Config
	jobs     *jobstore.Store
	docs     *docstore.Store
	vectors  *chroma.Client
	engine   *search.Engine
	pipeline *pipeline.Controller
	hub      *progress.Hub
}

// NewServer builds every dependency (document store, vector store,
// embedder, job store, pipeline controller, progress hub) and returns a
// Server ready to Router().
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	docs, err := docstore.Connect(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	if err := docs.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure document store indexes: %w", err)
	}

	vectors := chroma.NewClient(cfg.Chroma.Host, cfg.Chroma.Port)
	if err := vectors.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure vector collection: %w", err)
	}

	embedder := embeddings.NewEmbedder(cfg.Ollama.URL, cfg.Ollama.EmbeddingModel)
	models := ollama.NewClient(cfg.Ollama.URL)

	jobs := jobstore.New(docs.Database())
	importer := indexer.NewImporter(docs, cfg.Pipeline.ImportBatchSize)
	trainer := indexer.NewTrainer(docs, embedder, vectors, cfg.Pipeline.TrainBatchSize)

	hub := progress.NewHub()
	controller := pipeline.New(jobs, importer, trainer, models, hub, cfg.Ollama.EmbeddingModel, cfg.Storage.DataDir, cfg.Pipeline.WorkerPoolSize)

	engine := search.NewEngine(docs, vectors, embedder)

	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		docs:     docs,
		vectors:  vectors,
		engine:   engine,
		pipeline: controller,
		hub:      hub,
	}, nil
}

// Router returns the HTTP handler for the server.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("POST /admin/upload", s.handleUpload)
	mux.HandleFunc("GET /admin/import-status", s.handleImportStatusAll)
	mux.HandleFunc("GET /admin/import/{job_id}/status", s.handleJobStatus)
	mux.HandleFunc("GET /admin/import/{job_id}/stream", s.handleJobStream)
	mux.HandleFunc("POST /admin/import/{job_id}/start", s.handleJobStart)
	mux.HandleFunc("POST /admin/import/{job_id}/cancel", s.handleJobCancel)
	mux.HandleFunc("POST /admin/restart-import/{job_id}", s.handleJobRestart)
	mux.HandleFunc("POST /admin/clear-all", s.handleClearAll)
	mux.HandleFunc("POST /admin/clear", s.handleClear)

	mux.HandleFunc("POST /api/v1/search", s.handleSearch)

	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)

	return s.withMiddleware(mux)
}

// withMiddleware wraps the handler with common middleware (CORS).
func (s *Server) withMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// handleHealth reports the health of the vector store dependency; the
// document store is not checked.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vectorsHealthy := true
	var vectorsErr string
	if err := s.vectors.HealthCheck(ctx); err != nil {
		vectorsHealthy = false
		vectorsErr = err.Error()
	}

	response := map[string]interface{}{
		"status":  "healthy",
		"service": "slackcorpus",
		"checks": map[string]interface{}{
			"chroma": map[string]interface{}{
				"healthy": vectorsHealthy,
				"error":   vectorsErr,
			},
		},
	}
	if !vectorsHealthy {
		response["status"] = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("encode health response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
