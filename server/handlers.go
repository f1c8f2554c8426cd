package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/smallnest/graphrag/rag"
)

const (
	defaultTopK = 5
	maxTopK     = 20
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 10 << 20
)

type ingestRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type ingestResponse struct {
	DocumentID         int64  `json:"document_id"`
	Message            string `json:"message"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Database       bool   `json:"database"`
	LLM            bool   `json:"llm"`
	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model"`
}

// GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Graph RAG API",
		"version": "1.0.0",
		"status":  "running",
		"health":  "/health",
	})
}

// GET /health
// The database and LLM checks run concurrently.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var db, llm bool
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		db = s.engine.CheckDatabase(ctx)
		return nil
	})
	g.Go(func() error {
		llm = s.engine.CheckLLM(ctx)
		return nil
	})
	_ = g.Wait()

	status := "healthy"
	if !db || !llm {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         status,
		Database:       db,
		LLM:            llm,
		EmbeddingModel: s.opts.EmbeddingModel,
		LLMModel:       s.opts.LLMModel,
	})
}

// POST /ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeEngineError(w, r, &rag.ValidationError{Field: "content", Reason: "must not be empty"})
		return
	}

	s.logger.Info("[%s] ingest request (%d characters)", RequestID(r.Context()), len([]rune(req.Content)))
	id, err := s.engine.Ingest(r.Context(), req.Content, req.Metadata)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentID:         id,
		Message:            "Document successfully added to the knowledge base",
		EmbeddingDimension: s.engine.EmbeddingDimension(),
	})
}

// POST /query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req := rag.QueryRequest{TopK: defaultTopK, UseGraph: true}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if req.TopK < 1 || req.TopK > maxTopK {
		s.writeEngineError(w, r, &rag.ValidationError{Field: "top_k", Reason: fmt.Sprintf("must be between 1 and %d", maxTopK)})
		return
	}

	result, err := s.engine.Query(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("[%s] query answered from %d documents", RequestID(r.Context()), len(result.Sources))
	writeJSON(w, http.StatusOK, result)
}

// DELETE /documents/{id}
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeEngineError(w, r, &rag.ValidationError{Field: "id", Reason: "must be a positive integer"})
		return
	}

	if err := s.engine.DeleteDocument(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Document %d successfully deleted", id),
	})
}

// GET /documents/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return &rag.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("[%s] %s %s: %v", RequestID(r.Context()), r.Method, r.URL.Path, err)
	} else {
		s.logger.Warn("[%s] %s %s: %v", RequestID(r.Context()), r.Method, r.URL.Path, err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
