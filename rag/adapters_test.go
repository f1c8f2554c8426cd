package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/graphrag/log"
)

type fakeLangChainEmbedder struct {
	vector []float32
	err    error
	delay  time.Duration
}

func (f *fakeLangChainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeLangChainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (r *recordingLogger) Debug(format string, v ...any) {}
func (r *recordingLogger) Info(format string, v ...any)  {}
func (r *recordingLogger) Error(format string, v ...any) {}
func (r *recordingLogger) Warn(format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, format)
}

var _ log.Logger = (*recordingLogger)(nil)

type fakeModel struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	content  string
	err      error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textOf(msg llms.MessageContent) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func TestLangChainEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("returns vector", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: []float32{1, 2, 3}}, 3, WithLogger(&log.NoOpLogger{}))
		v, err := e.EmbedDocument(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, v)
		assert.Equal(t, 3, e.GetDimension())
	})

	t.Run("dimension mismatch is a warning", func(t *testing.T) {
		logger := &recordingLogger{}
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: []float32{1, 2}}, 3, WithLogger(logger))
		v, err := e.EmbedDocument(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, v, 2)
		require.Len(t, logger.warns, 1)
		assert.Contains(t, logger.warns[0], "does not match")
	})

	t.Run("backend error becomes EmbeddingError", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{err: errors.New("connection refused")}, 3)
		_, err := e.EmbedDocument(ctx, "hello")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmbedding)
		var ee *EmbeddingError
		assert.True(t, errors.As(err, &ee))
	})

	t.Run("timeout becomes EmbeddingError", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: []float32{1}, delay: time.Second}, 1,
			WithTimeout(10*time.Millisecond))
		_, err := e.EmbedDocument(ctx, "slow")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmbedding)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("empty vector is malformed", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: []float32{}}, 3)
		_, err := e.EmbedDocument(ctx, "hello")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("batch", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: []float32{1, 0}}, 2)
		vs, err := e.EmbedDocuments(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, vs, 2)
	})

	t.Run("measure dimension", func(t *testing.T) {
		e := NewLangChainEmbedder(&fakeLangChainEmbedder{vector: make([]float32, 384)}, 768, WithLogger(&log.NoOpLogger{}))
		dim, err := MeasureDimension(ctx, e, "test")
		require.NoError(t, err)
		assert.Equal(t, 384, dim)
	})
}

func TestLangChainGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("generation mode keeps the system prompt", func(t *testing.T) {
		model := &fakeModel{content: "  Machine learning is a branch of AI.  "}
		g := NewLangChainGenerator(model)

		p := DefaultGenerationParams()
		answer, err := g.Complete(ctx, CompletionRequest{
			SystemPrompt: "answer from context",
			UserPrompt:   "What is ML?",
			Mode:         ModeGeneration,
			Temperature:  p.Temperature,
			TopP:         p.TopP,
			MaxTokens:    p.MaxTokens,
		})
		require.NoError(t, err)
		assert.Equal(t, "Machine learning is a branch of AI.", answer)

		require.Len(t, model.messages, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
		assert.Equal(t, "answer from context", textOf(model.messages[0]))
		assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
		assert.Equal(t, 0.7, model.options.Temperature)
		assert.Equal(t, 0.9, model.options.TopP)
		assert.Equal(t, 800, model.options.MaxTokens)
	})

	t.Run("extraction mode appends strict directive", func(t *testing.T) {
		model := &fakeModel{content: "[]"}
		g := NewLangChainGenerator(model)

		p := DefaultExtractionParams()
		_, err := g.Complete(ctx, CompletionRequest{
			SystemPrompt: "List the people mentioned.",
			UserPrompt:   "Alice met Bob.",
			Mode:         ModeExtraction,
			Temperature:  p.Temperature,
			TopP:         p.TopP,
			MaxTokens:    p.MaxTokens,
		})
		require.NoError(t, err)
		system := textOf(model.messages[0])
		assert.True(t, strings.HasPrefix(system, "List the people mentioned."))
		assert.Contains(t, system, "LITERALLY present")
		assert.Equal(t, 0.0, model.options.Temperature)
		assert.Equal(t, 2048, model.options.MaxTokens)
	})

	t.Run("russian directive", func(t *testing.T) {
		model := &fakeModel{content: "ok"}
		g := NewLangChainGenerator(model, WithLanguage(LanguageRussian))
		_, err := g.Complete(ctx, CompletionRequest{SystemPrompt: "Извлеки сущности", UserPrompt: "текст", Mode: ModeExtraction})
		require.NoError(t, err)
		assert.Contains(t, textOf(model.messages[0]), "КРИТИЧЕСКИ ВАЖНО")
	})

	t.Run("no system prompt", func(t *testing.T) {
		model := &fakeModel{content: "ok"}
		g := NewLangChainGenerator(model)
		_, err := g.Complete(ctx, CompletionRequest{UserPrompt: "hi", Mode: ModeExtraction})
		require.NoError(t, err)
		require.Len(t, model.messages, 1)
		assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[0].Role)
	})

	t.Run("backend failure becomes GenerationError", func(t *testing.T) {
		g := NewLangChainGenerator(&fakeModel{err: errors.New("503")})
		_, err := g.Complete(ctx, CompletionRequest{UserPrompt: "hi"})
		assert.ErrorIs(t, err, ErrGeneration)
	})

	t.Run("blank answer is malformed", func(t *testing.T) {
		g := NewLangChainGenerator(&fakeModel{content: "   "})
		_, err := g.Complete(ctx, CompletionRequest{UserPrompt: "hi"})
		assert.ErrorIs(t, err, ErrGeneration)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}
