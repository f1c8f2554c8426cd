// Package server exposes a GraphRAG engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/smallnest/graphrag/log"
	"github.com/smallnest/graphrag/rag"
)

// Engine is the part of the GraphRAG engine served over HTTP.
type Engine interface {
	Ingest(ctx context.Context, content string, metadata map[string]any) (int64, error)
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResult, error)
	DeleteDocument(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*rag.Stats, error)
	CheckDatabase(ctx context.Context) bool
	CheckLLM(ctx context.Context) bool
	EmbeddingDimension() int
}

// Options configures a Server.
type Options struct {
	EmbeddingModel string
	LLMModel       string
	Logger         log.Logger
	// ShutdownTimeout bounds the graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine  Engine
	opts    Options
	logger  log.Logger
	handler http.Handler
}

// New creates a new Server.
func New(engine Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{engine: engine, opts: opts, logger: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /documents/stats", s.handleStats)

	// recovery -> request id -> logging -> mux
	var h http.Handler = mux
	h = s.logMiddleware(h)
	h = requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	s.handler = h
	return s
}

// Handler returns the root handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
