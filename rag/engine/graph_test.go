package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/graphrag/log"
	"github.com/smallnest/graphrag/rag"
	"github.com/smallnest/graphrag/rag/store"
)

// keywordEmbedder maps texts onto a few topic axes so that related texts
// land close together.
type keywordEmbedder struct {
	err error
}

var topics = [][]string{
	{"machine", "learning", "ai", "neural"},
	{"cook", "pasta", "recipe", "food"},
	{"graph", "node", "edge", "relationship"},
}

func (k *keywordEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	v := make([]float32, len(topics)+1)
	lower := strings.ToLower(text)
	for i, words := range topics {
		for _, w := range words {
			if strings.Contains(lower, w) {
				v[i]++
			}
		}
	}
	v[len(topics)] = 0.1
	return v, nil
}

func (k *keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.EmbedDocument(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (k *keywordEmbedder) GetDimension() int { return len(topics) + 1 }

type recordingGenerator struct {
	mu       sync.Mutex
	requests []rag.CompletionRequest
	answer   string
	err      error
}

func (g *recordingGenerator) Complete(ctx context.Context, req rag.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *recordingGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingLogger struct {
	log.NoOpLogger
	mu    sync.Mutex
	warns []string
}

func (r *recordingLogger) Warn(format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, fmt.Sprintf(format, v...))
}

func (r *recordingLogger) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warns...)
}

type failingGraph struct {
	*store.MemoryGraph
	createErr  error
	relatedErr error
	deleteErr  error
}

func (f *failingGraph) CreateNode(ctx context.Context, node *rag.GraphNode) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryGraph.CreateNode(ctx, node)
}

func (f *failingGraph) Related(ctx context.Context, ids []int64, limit int) ([]rag.GraphRow, error) {
	if f.relatedErr != nil {
		return nil, f.relatedErr
	}
	return f.MemoryGraph.Related(ctx, ids, limit)
}

func (f *failingGraph) DeleteNodes(ctx context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryGraph.DeleteNodes(ctx, id)
}

// commitFailingStore wraps a VectorStore whose transactions never commit.
type commitFailingStore struct {
	rag.VectorStore
}

type commitFailingTx struct {
	rag.VectorTx
}

func (c *commitFailingStore) Begin(ctx context.Context) (rag.VectorTx, error) {
	tx, err := c.VectorStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &commitFailingTx{tx}, nil
}

func (c *commitFailingTx) Commit(ctx context.Context) error {
	return errors.New("could not serialize access")
}

type staticModels struct {
	models []string
	err    error
}

func (s *staticModels) ListModels(ctx context.Context) ([]string, error) { return s.models, s.err }

// hungModels never answers until its context ends.
type hungModels struct{}

func (hungModels) ListModels(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	engine    *GraphRAGEngine
	vectors   *store.InMemoryVectorStore
	graph     *store.MemoryGraph
	generator *recordingGenerator
	logger    *recordingLogger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		vectors:   store.NewInMemoryVectorStore(len(topics) + 1),
		graph:     store.NewMemoryGraph(),
		generator: &recordingGenerator{answer: "Machine learning is a branch of AI."},
		logger:    &recordingLogger{},
	}
	opts = append([]Option{WithGraphStore(f.graph), WithLogger(f.logger)}, opts...)
	e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, f.vectors, f.generator, opts...)
	require.NoError(t, err)
	f.engine = e
	return f
}

func TestNewGraphRAGEngine(t *testing.T) {
	_, err := NewGraphRAGEngine(DefaultConfig(), nil, store.NewInMemoryVectorStore(0), &recordingGenerator{})
	assert.Error(t, err)
	_, err = NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, nil, &recordingGenerator{})
	assert.Error(t, err)
	_, err = NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, store.NewInMemoryVectorStore(0), nil)
	assert.Error(t, err)

	e, err := NewGraphRAGEngine(Config{}, &keywordEmbedder{}, store.NewInMemoryVectorStore(0), &recordingGenerator{})
	require.NoError(t, err)
	assert.False(t, e.HasGraph())
	assert.Equal(t, rag.DefaultGenerationParams(), e.config.Generation)
	assert.Equal(t, len(topics)+1, e.EmbeddingDimension())
}

func TestGraphRAGEngine_TextbookScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.Ingest(ctx, "Machine learning is a branch of AI", map[string]any{"source": "textbook"})
	require.NoError(t, err)
	assert.Positive(t, id)
	_, err = f.engine.Ingest(ctx, "How to cook pasta", map[string]any{"source": "cookbook"})
	require.NoError(t, err)

	res, err := f.engine.Query(ctx, rag.QueryRequest{
		Question:            "What is machine learning?",
		TopK:                1,
		UseGraph:            false,
		SimilarityThreshold: 0,
	})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, id, res.Sources[0].ID)
	assert.Equal(t, "textbook", res.Sources[0].Metadata["source"])
	assert.Equal(t, "Machine learning is a branch of AI.", res.Answer)
	assert.Nil(t, res.GraphContext)

	require.Equal(t, 1, f.generator.calls())
	req := f.generator.requests[0]
	assert.Equal(t, rag.ModeGeneration, req.Mode)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, 0.9, req.TopP)
	assert.Equal(t, 800, req.MaxTokens)
	assert.Contains(t, req.UserPrompt, "[Document 1 | Relevance: ")
	assert.Contains(t, req.UserPrompt, "(Source: textbook)")
	assert.Contains(t, req.UserPrompt, "Question: What is machine learning?")
	assert.NotContains(t, req.UserPrompt, "[Graph context]")
}

func TestGraphRAGEngine_IngestedDocumentIsFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contents := []string{
		"Neural networks learn representations",
		"A graph node has edges",
		"Pasta recipe with tomatoes",
	}
	for _, c := range contents {
		id, err := f.engine.Ingest(ctx, c, nil)
		require.NoError(t, err)

		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: c, TopK: 5, SimilarityThreshold: 0})
		require.NoError(t, err)
		var found bool
		for _, s := range res.Sources {
			found = found || s.ID == id
		}
		assert.True(t, found, "ingested %q not returned", c)
	}
}

func TestGraphRAGEngine_EmptyStore(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Query(context.Background(), rag.QueryRequest{
		Question:            "anything",
		TopK:                5,
		UseGraph:            true,
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, rag.PromptsFor(rag.LanguageEnglish).NoResults, res.Answer)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
	assert.Nil(t, res.GraphContext)
	assert.Zero(t, f.generator.calls())
}

func TestGraphRAGEngine_ThresholdShortCircuit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, "Machine learning is a branch of AI", nil)
	require.NoError(t, err)

	res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "best pasta recipe", TopK: 5, UseGraph: true, SimilarityThreshold: 0.999})
	require.NoError(t, err)
	assert.Equal(t, rag.PromptsFor(rag.LanguageEnglish).NoResults, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Nil(t, res.GraphContext)
	assert.Zero(t, f.generator.calls())
}

func TestGraphRAGEngine_TopKAndOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, c := range []string{
		"machine learning",
		"machine learning and neural ai",
		"pasta",
		"graph of machine learning",
		"neural",
	} {
		_, err := f.engine.Ingest(ctx, c, nil)
		require.NoError(t, err)
	}

	for k := 1; k <= 6; k++ {
		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: k})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Sources), k)
		for i := 1; i < len(res.Sources); i++ {
			assert.GreaterOrEqual(t, res.Sources[i-1].Similarity, res.Sources[i].Similarity)
		}
	}
}

func TestGraphRAGEngine_DeleteThenQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.Ingest(ctx, "Machine learning is a branch of AI", map[string]any{"source": "textbook"})
	require.NoError(t, err)
	require.Equal(t, 1, f.graph.NodeCount())

	require.NoError(t, f.engine.DeleteDocument(ctx, id))
	assert.Zero(t, f.graph.NodeCount())

	for _, threshold := range []float64{0, 0.5, 1} {
		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 5, SimilarityThreshold: threshold})
		require.NoError(t, err)
		for _, s := range res.Sources {
			assert.NotEqual(t, id, s.ID)
		}
	}

	err = f.engine.DeleteDocument(ctx, id)
	assert.ErrorIs(t, err, rag.ErrNotFound)
	var nf *rag.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, id, nf.ID)
}

func TestGraphRAGEngine_DeleteGraphFailureIsWarning(t *testing.T) {
	vectors := store.NewInMemoryVectorStore(len(topics) + 1)
	graph := &failingGraph{MemoryGraph: store.NewMemoryGraph(), deleteErr: errors.New("graph down")}
	logger := &recordingLogger{}
	e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, vectors, &recordingGenerator{answer: "ok"},
		WithGraphStore(graph), WithLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()
	id, err := e.Ingest(ctx, "machine learning", nil)
	require.NoError(t, err)
	require.NoError(t, e.DeleteDocument(ctx, id))
	require.Len(t, logger.warnings(), 1)
	assert.Contains(t, logger.warnings()[0], "delete node")
}

func TestGraphRAGEngine_GraphCreateFailure(t *testing.T) {
	vectors := store.NewInMemoryVectorStore(len(topics) + 1)
	graph := &failingGraph{MemoryGraph: store.NewMemoryGraph(), createErr: errors.New(`graph "knowledge_graph" does not exist`)}
	logger := &recordingLogger{}
	e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, vectors, &recordingGenerator{answer: "ok"},
		WithGraphStore(graph), WithLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()
	id, err := e.Ingest(ctx, "Machine learning is a branch of AI", nil)
	require.NoError(t, err)
	assert.Positive(t, id)

	warnings := logger.warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "create node")
	assert.Contains(t, warnings[0], fmt.Sprintf("document %d", id))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDocuments)
	assert.Zero(t, graph.NodeCount())
}

func TestGraphRAGEngine_CommitFailureRemovesNode(t *testing.T) {
	graph := store.NewMemoryGraph()
	vectors := &commitFailingStore{store.NewInMemoryVectorStore(len(topics) + 1)}
	e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, vectors, &recordingGenerator{},
		WithGraphStore(graph), WithLogger(&recordingLogger{}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = e.Ingest(ctx, "machine learning", nil)
	require.Error(t, err)
	var se *rag.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "commit", se.Op)
	assert.Zero(t, graph.NodeCount())

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocuments)
}

func TestGraphRAGEngine_GraphContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.Ingest(ctx, "machine learning", map[string]any{"source": "a"})
	require.NoError(t, err)
	b, err := f.engine.Ingest(ctx, "neural ai", map[string]any{"source": "b"})
	require.NoError(t, err)

	t.Run("nodes without edges", func(t *testing.T) {
		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 2, UseGraph: true})
		require.NoError(t, err)
		require.NotNil(t, res.GraphContext)
		assert.Equal(t, 2, res.GraphContext.NodesFound)
		assert.Equal(t, 2, res.GraphContext.SampleNodes)
		assert.False(t, res.GraphContext.HasRelationships)

		last := f.generator.requests[len(f.generator.requests)-1]
		assert.Contains(t, last.UserPrompt, "[Graph context]: Found 2 related nodes in the knowledge graph.")
	})

	t.Run("relationships", func(t *testing.T) {
		require.NoError(t, f.graph.AddRelationship(ctx, a, b, "RELATED_TO"))
		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 2, UseGraph: true})
		require.NoError(t, err)
		require.NotNil(t, res.GraphContext)
		assert.True(t, res.GraphContext.HasRelationships)
	})

	t.Run("use_graph false", func(t *testing.T) {
		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 2, UseGraph: false})
		require.NoError(t, err)
		assert.Nil(t, res.GraphContext)
	})
}

func TestGraphRAGEngine_GraphLookupFailure(t *testing.T) {
	graph := &failingGraph{MemoryGraph: store.NewMemoryGraph(), relatedErr: errors.New("timeout")}
	logger := &recordingLogger{}
	gen := &recordingGenerator{answer: "answer"}
	e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, store.NewInMemoryVectorStore(len(topics)+1), gen,
		WithGraphStore(graph), WithLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = e.Ingest(ctx, "machine learning", nil)
	require.NoError(t, err)

	res, err := e.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 3, UseGraph: true})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Answer)
	assert.Nil(t, res.GraphContext)
	require.Len(t, logger.warnings(), 1)
	assert.Contains(t, logger.warnings()[0], "related")
}

func TestGraphRAGEngine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, "   ", nil)
	assert.ErrorIs(t, err, rag.ErrValidation)

	for _, req := range []rag.QueryRequest{
		{Question: "", TopK: 5},
		{Question: "q", TopK: 0},
		{Question: "q", TopK: 5, SimilarityThreshold: -0.1},
		{Question: "q", TopK: 5, SimilarityThreshold: 1.5},
	} {
		_, err := f.engine.Query(ctx, req)
		var ve *rag.ValidationError
		assert.True(t, errors.As(err, &ve), "%+v", req)
	}
	assert.Zero(t, f.generator.calls())
}

func TestGraphRAGEngine_BackendErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("embedding failure writes nothing", func(t *testing.T) {
		vectors := store.NewInMemoryVectorStore(0)
		graph := store.NewMemoryGraph()
		e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{err: errors.New("connection refused")}, vectors,
			&recordingGenerator{}, WithGraphStore(graph), WithLogger(&recordingLogger{}))
		require.NoError(t, err)

		_, err = e.Ingest(ctx, "machine learning", nil)
		assert.ErrorIs(t, err, rag.ErrEmbedding)
		stats, err := vectors.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalDocuments)
		assert.Zero(t, graph.NodeCount())

		_, err = e.Query(ctx, rag.QueryRequest{Question: "q", TopK: 1})
		assert.ErrorIs(t, err, rag.ErrEmbedding)
	})

	t.Run("generation failure", func(t *testing.T) {
		f := newFixture(t)
		f.generator.err = errors.New("model not loaded")
		_, err := f.engine.Ingest(ctx, "machine learning", nil)
		require.NoError(t, err)

		res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 1})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, rag.ErrGeneration)
	})

	t.Run("dimension mismatch is a storage error", func(t *testing.T) {
		e, err := NewGraphRAGEngine(DefaultConfig(), &keywordEmbedder{}, store.NewInMemoryVectorStore(768),
			&recordingGenerator{}, WithLogger(&recordingLogger{}))
		require.NoError(t, err)
		_, err = e.Ingest(ctx, "machine learning", nil)
		assert.ErrorIs(t, err, rag.ErrStorage)
		assert.ErrorIs(t, err, rag.ErrDimensionMismatch)
	})
}

func TestGraphRAGEngine_SourcesAreTruncated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := "machine learning " + strings.Repeat("ж", 500)
	id, err := f.engine.Ingest(ctx, long, nil)
	require.NoError(t, err)

	res, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 1})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, id, res.Sources[0].ID)
	assert.Equal(t, SourceContentLength, len([]rune(res.Sources[0].Content)))
	assert.NotNil(t, res.Sources[0].Metadata)

	rows, err := f.graph.Related(ctx, []int64{id}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGraphRAGEngine_StatsAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, "machine learning", map[string]any{"source": "a"})
	require.NoError(t, err)
	_, err = f.engine.Ingest(ctx, "pasta", map[string]any{"source": "b"})
	require.NoError(t, err)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDocuments)
	assert.Equal(t, int64(2), stats.UniqueSources)

	n, err := f.engine.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, f.graph.NodeCount())
}

func TestGraphRAGEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("initialize with models", func(t *testing.T) {
		f := newFixture(t, WithModelLister(&staticModels{models: []string{"llama-3.2-3b-instruct"}}))
		require.NoError(t, f.engine.Initialize(ctx))
		assert.Empty(t, f.logger.warnings())
		assert.True(t, f.engine.CheckDatabase(ctx))
		assert.True(t, f.engine.CheckLLM(ctx))
	})

	t.Run("no models loaded is a warning", func(t *testing.T) {
		f := newFixture(t, WithModelLister(&staticModels{}))
		require.NoError(t, f.engine.Initialize(ctx))
		require.Len(t, f.logger.warnings(), 1)
		assert.Contains(t, f.logger.warnings()[0], "no models loaded")
	})

	t.Run("llm unavailable is a warning", func(t *testing.T) {
		f := newFixture(t, WithModelLister(&staticModels{err: errors.New("connection refused")}))
		require.NoError(t, f.engine.Initialize(ctx))
		require.Len(t, f.logger.warnings(), 1)
		assert.False(t, f.engine.CheckLLM(ctx))
	})

	t.Run("no lister", func(t *testing.T) {
		f := newFixture(t)
		assert.False(t, f.engine.CheckLLM(ctx))
		assert.NoError(t, f.engine.Shutdown())
	})
}

func TestGraphRAGEngine_HungBackendTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthTimeout = 50 * time.Millisecond
	logger := &recordingLogger{}
	e, err := NewGraphRAGEngine(cfg, &keywordEmbedder{}, store.NewInMemoryVectorStore(len(topics)+1),
		&recordingGenerator{}, WithModelLister(hungModels{}), WithLogger(logger))
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	assert.False(t, e.CheckLLM(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = e.Models(ctx)
	assert.ErrorIs(t, err, rag.ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, e.Initialize(ctx))
	require.Len(t, logger.warnings(), 1)
	assert.Contains(t, logger.warnings()[0], "LLM backend unavailable")
}

func TestGraphRAGEngine_RussianPrompts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Language = rag.LanguageRussian
	gen := &recordingGenerator{answer: "ответ"}
	e, err := NewGraphRAGEngine(cfg, &keywordEmbedder{}, store.NewInMemoryVectorStore(len(topics)+1), gen,
		WithLogger(&recordingLogger{}))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := e.Query(ctx, rag.QueryRequest{Question: "что угодно", TopK: 1, SimilarityThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, rag.PromptsFor(rag.LanguageRussian).NoResults, res.Answer)

	_, err = e.Ingest(ctx, "machine learning", nil)
	require.NoError(t, err)
	_, err = e.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 1})
	require.NoError(t, err)
	require.Len(t, gen.requests, 1)
	assert.Contains(t, gen.requests[0].UserPrompt, "(Источник: неизвестно)")
	assert.Contains(t, gen.requests[0].UserPrompt, "Вопрос: machine learning")
}

func TestGraphRAGEngine_ConcurrentUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Ingest(ctx, fmt.Sprintf("machine learning %d", i), nil)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := f.engine.Query(ctx, rag.QueryRequest{Question: "machine learning", TopK: 3})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalDocuments)
	assert.Equal(t, 10, f.graph.NodeCount())
}
