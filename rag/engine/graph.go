package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallnest/graphrag/log"
	"github.com/smallnest/graphrag/rag"
)

// DefaultStorageTimeout bounds a single storage call.
const DefaultStorageTimeout = 30 * time.Second

// DefaultHealthTimeout bounds a model listing call.
const DefaultHealthTimeout = 10 * time.Second

// Config holds the tunables of a GraphRAGEngine.
type Config struct {
	Language       rag.Language
	Generation     rag.GenerationParams
	StorageTimeout time.Duration
	HealthTimeout  time.Duration
}

// DefaultConfig returns the English prompts, the default sampling parameters
// and the default storage timeout.
func DefaultConfig() Config {
	return Config{
		Language:       rag.LanguageEnglish,
		Generation:     rag.DefaultGenerationParams(),
		StorageTimeout: DefaultStorageTimeout,
		HealthTimeout:  DefaultHealthTimeout,
	}
}

// Option configures a GraphRAGEngine.
type Option func(*GraphRAGEngine)

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(e *GraphRAGEngine) { e.logger = l }
}

// WithGraphStore enables graph enrichment on ingest and query.
func WithGraphStore(g rag.GraphStore) Option {
	return func(e *GraphRAGEngine) { e.graph = g }
}

// WithModelLister sets the backend probed by Initialize and CheckLLM.
func WithModelLister(m rag.ModelLister) Option {
	return func(e *GraphRAGEngine) { e.models = m }
}

// GraphRAGEngine combines vector search, graph context and an answer generator.
// It holds no mutable state and is safe for concurrent use.
type GraphRAGEngine struct {
	config    Config
	prompts   rag.Prompts
	embedder  rag.Embedder
	vectors   rag.VectorStore
	graph     rag.GraphStore
	generator rag.Generator
	models    rag.ModelLister
	logger    log.Logger
}

// NewGraphRAGEngine creates a new GraphRAG engine. The graph store is optional.
func NewGraphRAGEngine(config Config, embedder rag.Embedder, vectors rag.VectorStore, generator rag.Generator, opts ...Option) (*GraphRAGEngine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	if config.Generation == (rag.GenerationParams{}) {
		config.Generation = rag.DefaultGenerationParams()
	}
	if config.Language == "" {
		config.Language = rag.LanguageEnglish
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = DefaultHealthTimeout
	}

	e := &GraphRAGEngine{
		config:    config,
		prompts:   rag.PromptsFor(config.Language),
		embedder:  embedder,
		vectors:   vectors,
		generator: generator,
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EmbeddingDimension returns the configured vector width.
func (e *GraphRAGEngine) EmbeddingDimension() int {
	return e.embedder.GetDimension()
}

// HasGraph reports whether graph enrichment is enabled.
func (e *GraphRAGEngine) HasGraph() bool {
	return e.graph != nil
}

// Initialize checks the database, which must answer, and lists the LLM models,
// which only warns when it fails.
func (e *GraphRAGEngine) Initialize(ctx context.Context) error {
	if err := e.ping(ctx); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	e.logger.Info("database connection established")

	if e.models == nil {
		return nil
	}
	models, err := e.Models(ctx)
	switch {
	case err != nil:
		e.logger.Warn("LLM backend unavailable: %v", err)
	case len(models) == 0:
		e.logger.Warn("LLM backend reachable, but no models loaded")
	default:
		e.logger.Info("LLM backend models: %s", strings.Join(models, ", "))
	}
	return nil
}

// Shutdown closes the graph and vector stores.
func (e *GraphRAGEngine) Shutdown() error {
	var errs []error
	if e.graph != nil {
		if err := e.graph.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close graph store: %w", err))
		}
	}
	if err := e.vectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close vector store: %w", err))
	}
	return errors.Join(errs...)
}

// CheckDatabase reports whether the vector store answers.
func (e *GraphRAGEngine) CheckDatabase(ctx context.Context) bool {
	if err := e.ping(ctx); err != nil {
		e.logger.Debug("database check failed: %v", err)
		return false
	}
	return true
}

// CheckLLM reports whether the LLM backend lists its models.
func (e *GraphRAGEngine) CheckLLM(ctx context.Context) bool {
	if e.models == nil {
		return false
	}
	if _, err := e.Models(ctx); err != nil {
		e.logger.Debug("LLM check failed: %v", err)
		return false
	}
	return true
}

// Models lists the models loaded in the LLM backend, bounded by the health timeout.
func (e *GraphRAGEngine) Models(ctx context.Context) ([]string, error) {
	if e.models == nil {
		return nil, fmt.Errorf("%w: no model lister configured", rag.ErrGeneration)
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.HealthTimeout)
	defer cancel()
	models, err := e.models.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %w", rag.ErrGeneration, err)
	}
	return models, nil
}

// Ingest embeds content, stores it and, when a graph store is configured,
// creates its graph node. Graph failures never fail the ingest.
func (e *GraphRAGEngine) Ingest(ctx context.Context, content string, metadata map[string]any) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, &rag.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	embedding, err := e.embedder.EmbedDocument(ctx, content)
	if err != nil {
		return 0, asEmbeddingError(err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	tx, err := e.vectors.Begin(sctx)
	if err != nil {
		return 0, rag.NewStorageError("begin", err)
	}
	defer func() {
		if err := tx.Rollback(sctx); err != nil {
			e.logger.Debug("rollback: %v", err)
		}
	}()

	id, err := tx.Insert(sctx, &rag.Document{Content: content, Embedding: embedding, Metadata: metadata})
	if err != nil {
		return 0, rag.NewStorageError("insert", err)
	}

	nodeCreated := false
	if e.graph != nil {
		if err := e.graph.CreateNode(sctx, newGraphNode(id, content, metadata)); err != nil {
			e.warn(&rag.GraphWarning{Op: "create node", DocID: id, Err: err})
		} else {
			nodeCreated = true
		}
	}

	if err := tx.Commit(sctx); err != nil {
		if nodeCreated {
			if derr := e.graph.DeleteNodes(sctx, id); derr != nil {
				e.warn(&rag.GraphWarning{Op: "remove orphan node", DocID: id, Err: derr})
			}
		}
		return 0, rag.NewStorageError("commit", err)
	}

	e.logger.Info("document %d ingested (%d characters)", id, utf8.RuneCountInString(content))
	return id, nil
}

// Query answers a question from the most similar documents.
func (e *GraphRAGEngine) Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResult, error) {
	if err := validateQuery(req); err != nil {
		return nil, err
	}

	embedding, err := e.embedder.EmbedDocument(ctx, req.Question)
	if err != nil {
		return nil, asEmbeddingError(err)
	}

	results, err := e.search(ctx, embedding, req.TopK, req.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		e.logger.Info("no documents above similarity %.2f", req.SimilarityThreshold)
		return &rag.QueryResult{Answer: e.prompts.NoResults, Sources: []rag.Source{}}, nil
	}

	var graphContext *rag.GraphContext
	if req.UseGraph && e.graph != nil {
		graphContext = e.graphContext(ctx, results)
	}

	contextBlock := buildContext(e.prompts, results, graphContext)
	answer, err := e.generator.Complete(ctx, rag.CompletionRequest{
		SystemPrompt: e.prompts.System,
		UserPrompt:   fmt.Sprintf(e.prompts.User, contextBlock, req.Question),
		Mode:         rag.ModeGeneration,
		Temperature:  e.config.Generation.Temperature,
		TopP:         e.config.Generation.TopP,
		MaxTokens:    e.config.Generation.MaxTokens,
	})
	if err != nil {
		return nil, asGenerationError(err)
	}

	return &rag.QueryResult{
		Answer:       answer,
		Sources:      toSources(results),
		GraphContext: graphContext,
	}, nil
}

// DeleteDocument removes a document and, best-effort, its graph node.
func (e *GraphRAGEngine) DeleteDocument(ctx context.Context, id int64) error {
	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	if err := e.vectors.Delete(sctx, id); err != nil {
		return rag.NewStorageError("delete", err)
	}
	if e.graph != nil {
		if err := e.graph.DeleteNodes(sctx, id); err != nil {
			e.warn(&rag.GraphWarning{Op: "delete node", DocID: id, Err: err})
		}
	}
	e.logger.Info("document %d deleted", id)
	return nil
}

// Stats returns the vector store statistics.
func (e *GraphRAGEngine) Stats(ctx context.Context) (*rag.Stats, error) {
	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	stats, err := e.vectors.Stats(sctx)
	if err != nil {
		return nil, rag.NewStorageError("stats", err)
	}
	return stats, nil
}

// Clear removes every document and graph node and returns the number of
// documents removed.
func (e *GraphRAGEngine) Clear(ctx context.Context) (int64, error) {
	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	n, err := e.vectors.Clear(sctx)
	if err != nil {
		return 0, rag.NewStorageError("clear", err)
	}
	if e.graph != nil {
		if err := e.graph.Clear(sctx); err != nil {
			e.warn(&rag.GraphWarning{Op: "clear", Err: err})
		}
	}
	e.logger.Info("knowledge base cleared: %d documents removed", n)
	return n, nil
}

func (e *GraphRAGEngine) search(ctx context.Context, embedding []float32, k int, threshold float64) ([]rag.SearchResult, error) {
	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	results, err := e.vectors.Search(sctx, embedding, k, threshold)
	if err != nil {
		return nil, rag.NewStorageError("search", err)
	}
	return results, nil
}

func (e *GraphRAGEngine) graphContext(ctx context.Context, results []rag.SearchResult) *rag.GraphContext {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Document.ID
	}

	sctx, cancel := e.storageContext(ctx)
	defer cancel()

	rows, err := e.graph.Related(sctx, ids, GraphRowLimit)
	if err != nil {
		e.warn(&rag.GraphWarning{Op: "related", Err: err})
		return nil
	}
	return summarizeGraph(rows)
}

func (e *GraphRAGEngine) ping(ctx context.Context) error {
	sctx, cancel := e.storageContext(ctx)
	defer cancel()
	return e.vectors.Ping(sctx)
}

func (e *GraphRAGEngine) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.StorageTimeout > 0 {
		return context.WithTimeout(ctx, e.config.StorageTimeout)
	}
	return ctx, func() {}
}

func (e *GraphRAGEngine) warn(w *rag.GraphWarning) {
	e.logger.Warn("graph enrichment skipped: %v", w)
}

func validateQuery(req rag.QueryRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return &rag.ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if req.TopK < 1 {
		return &rag.ValidationError{Field: "top_k", Reason: "must be at least 1"}
	}
	if math.IsNaN(req.SimilarityThreshold) || req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return &rag.ValidationError{Field: "similarity_threshold", Reason: "must be between 0 and 1"}
	}
	return nil
}

func asEmbeddingError(err error) error {
	if errors.Is(err, rag.ErrEmbedding) {
		return err
	}
	return &rag.EmbeddingError{Err: err}
}

func asGenerationError(err error) error {
	if errors.Is(err, rag.ErrGeneration) {
		return err
	}
	return &rag.GenerationError{Err: err}
}
