// Package lmstudio builds the clients of an OpenAI-compatible backend such as
// LM Studio: a langchaingo LLM for chat and embeddings, and a go-openai client
// for listing the loaded models.
package lmstudio

import (
	"context"
	"fmt"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smallnest/graphrag/rag"
)

// Client bundles the clients of one backend.
type Client struct {
	llm            *openai.LLM
	models         *goopenai.Client
	model          string
	embeddingModel string
}

var _ rag.ModelLister = (*Client)(nil)

// New returns a new Client. Unset options fall back to the LMSTUDIO_BASE_URL,
// LMSTUDIO_API_KEY, LLM_MODEL and EMBEDDING_MODEL environment variables, then
// to the package defaults.
//
// Example:
//
//	c, err := lmstudio.New(
//		lmstudio.WithBaseURL("http://localhost:1234/v1"),
//		lmstudio.WithModel("llama-3.2-3b-instruct"),
//	)
func New(opts ...Option) (*Client, error) {
	o := &options{
		baseURL:        getEnvOrDefault("LMSTUDIO_BASE_URL", DefaultBaseURL),
		apiKey:         getEnvOrDefault("LMSTUDIO_API_KEY", DefaultAPIKey),
		model:          getEnvOrDefault("LLM_MODEL", DefaultModel),
		embeddingModel: getEnvOrDefault("EMBEDDING_MODEL", DefaultEmbeddingModel),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	llmOpts := []openai.Option{
		openai.WithBaseURL(o.baseURL),
		openai.WithToken(o.apiKey),
		openai.WithModel(o.model),
		openai.WithEmbeddingModel(o.embeddingModel),
	}
	if o.httpClient != nil {
		llmOpts = append(llmOpts, openai.WithHTTPClient(o.httpClient))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	cfg := goopenai.DefaultConfig(o.apiKey)
	cfg.BaseURL = o.baseURL
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	} else {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Client{
		llm:            llm,
		models:         goopenai.NewClientWithConfig(cfg),
		model:          o.model,
		embeddingModel: o.embeddingModel,
	}, nil
}

// LLM returns the chat model.
func (c *Client) LLM() *openai.LLM {
	return c.llm
}

// Embedder returns a langchaingo embedder on the embedding model.
func (c *Client) Embedder() (embeddings.Embedder, error) {
	e, err := embeddings.NewEmbedder(c.llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return e, nil
}

// Model returns the chat model name.
func (c *Client) Model() string {
	return c.model
}

// EmbeddingModel returns the embedding model name.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// ListModels returns the ids of the models the backend has loaded.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.models.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
