package lmstudio

import (
	"net/http"
	"os"
)

const (
	// DefaultBaseURL is the OpenAI-compatible endpoint of LM Studio as seen from a container.
	DefaultBaseURL = "http://host.docker.internal:1234/v1"
	// DefaultAPIKey is accepted by LM Studio, which ignores it.
	DefaultAPIKey = "lm-studio"
	// DefaultModel is the chat model used for answers.
	DefaultModel = "llama-3.2-3b-instruct"
	// DefaultEmbeddingModel is the model used for embeddings.
	DefaultEmbeddingModel = "text-embedding-nomic-embed-text-v1.5"
)

type options struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// Option is a function that configures a Client.
type Option func(*options)

// WithBaseURL sets the OpenAI-compatible base URL, including the /v1 suffix.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithAPIKey sets the API key sent as bearer token.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		o.embeddingModel = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
