package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/smallnest/graphrag/log"
)

// ErrEmptyResponse is wrapped when a backend answers without content.
var ErrEmptyResponse = errors.New("empty response")

// DefaultRequestTimeout bounds a single embedding or completion call.
const DefaultRequestTimeout = 60 * time.Second

// AdapterOption configures LangChainEmbedder and LangChainGenerator.
type AdapterOption func(*adapterOptions)

type adapterOptions struct {
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   log.Logger
	language Language
}

// WithTimeout sets the per-call deadline. Zero disables it.
func WithTimeout(d time.Duration) AdapterOption {
	return func(o *adapterOptions) { o.timeout = d }
}

// WithRateLimiter throttles outbound calls. A nil limiter disables throttling.
func WithRateLimiter(l *rate.Limiter) AdapterOption {
	return func(o *adapterOptions) { o.limiter = l }
}

// WithLogger sets the logger used for dimension warnings and call tracing.
func WithLogger(l log.Logger) AdapterOption {
	return func(o *adapterOptions) { o.logger = l }
}

// WithLanguage selects the language of the strict extraction directive.
func WithLanguage(lang Language) AdapterOption {
	return func(o *adapterOptions) { o.language = lang }
}

func newAdapterOptions(opts []AdapterOption) adapterOptions {
	o := adapterOptions{
		timeout:  DefaultRequestTimeout,
		logger:   log.GetDefaultLogger(),
		language: LanguageEnglish,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// call applies the limiter and the deadline shared by both adapters.
func (o adapterOptions) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if o.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// LangChainEmbedder adapts langchaingo's embeddings.Embedder to our Embedder interface
type LangChainEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
	opts      adapterOptions
}

var _ Embedder = (*LangChainEmbedder)(nil)

// NewLangChainEmbedder creates an adapter expecting vectors of the given width.
func NewLangChainEmbedder(embedder embeddings.Embedder, dimension int, opts ...AdapterOption) *LangChainEmbedder {
	return &LangChainEmbedder{
		embedder:  embedder,
		dimension: dimension,
		opts:      newAdapterOptions(opts),
	}
}

// EmbedDocument embeds a single text. A vector of unexpected width is
// returned with a warning; the vector store rejects it on write.
func (l *LangChainEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel, err := l.opts.call(ctx)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	defer cancel()

	embedding, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(embedding) == 0 {
		return nil, &EmbeddingError{Err: ErrEmptyResponse}
	}
	l.checkDimension(len(embedding))
	return embedding, nil
}

// EmbedDocuments embeds several texts in one backend call.
func (l *LangChainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel, err := l.opts.call(ctx)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	defer cancel()

	vectors, err := l.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &EmbeddingError{Err: fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts))}
	}
	for _, v := range vectors {
		l.checkDimension(len(v))
	}
	return vectors, nil
}

// GetDimension returns the configured embedding dimension
func (l *LangChainEmbedder) GetDimension() int {
	return l.dimension
}

func (l *LangChainEmbedder) checkDimension(got int) {
	if l.dimension > 0 && got != l.dimension {
		l.opts.logger.Warn("embedding size (%d) does not match the expected dimension (%d)", got, l.dimension)
	}
}

// MeasureDimension embeds a probe text and returns the width the backend actually produces.
func MeasureDimension(ctx context.Context, embedder Embedder, probe string) (int, error) {
	v, err := embedder.EmbedDocument(ctx, probe)
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

// LangChainGenerator adapts a langchaingo llms.Model to the Generator interface.
type LangChainGenerator struct {
	llm  llms.Model
	opts adapterOptions
}

var _ Generator = (*LangChainGenerator)(nil)

// NewLangChainGenerator creates a Generator on top of llm.
func NewLangChainGenerator(llm llms.Model, opts ...AdapterOption) *LangChainGenerator {
	return &LangChainGenerator{
		llm:  llm,
		opts: newAdapterOptions(opts),
	}
}

// Complete sends one system + user exchange and returns the trimmed answer.
func (g *LangChainGenerator) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system := req.SystemPrompt
	if req.Mode == ModeExtraction && system != "" {
		system += PromptsFor(g.opts.language).StrictExtraction
	}

	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt))

	callOpts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
		llms.WithTopP(req.TopP),
	}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	ctx, cancel, err := g.opts.call(ctx)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer cancel()

	g.opts.logger.Debug("completion request: mode=%s temperature=%.2f top_p=%.2f max_tokens=%d",
		req.Mode, req.Temperature, req.TopP, req.MaxTokens)

	resp, err := g.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &GenerationError{Err: ErrEmptyResponse}
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	if answer == "" {
		return "", &GenerationError{Err: ErrEmptyResponse}
	}
	return answer, nil
}
