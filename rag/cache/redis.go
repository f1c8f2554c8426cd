package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/graphrag/log"
	"github.com/smallnest/graphrag/rag"
)

// CachedEmbedder decorates a rag.Embedder with a Redis cache keyed by model and text.
// Cache failures are logged and fall through to the wrapped embedder.
type CachedEmbedder struct {
	embedder rag.Embedder
	client   redis.UniversalClient
	model    string
	prefix   string
	ttl      time.Duration
	logger   log.Logger
}

var _ rag.Embedder = (*CachedEmbedder)(nil)

// Options configuration for the embedding cache
type Options struct {
	// Model is part of every key so that switching models never serves stale vectors.
	Model  string
	Prefix string        // Key prefix, default "graphrag:embedding:"
	TTL    time.Duration // Expiration for cached vectors, default 0 (no expiration)
	Logger log.Logger
}

// NewCachedEmbedder wraps embedder with a cache on client.
func NewCachedEmbedder(embedder rag.Embedder, client redis.UniversalClient, opts Options) *CachedEmbedder {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "graphrag:embedding:"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &CachedEmbedder{
		embedder: embedder,
		client:   client,
		model:    opts.Model,
		prefix:   prefix,
		ttl:      opts.TTL,
		logger:   logger,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// EmbedDocument returns the cached vector or embeds and stores it.
func (c *CachedEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.get(ctx, key); ok {
		return v, nil
	}

	v, err := c.embedder.EmbedDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, v)
	return v, nil
}

// EmbedDocuments serves hits from the cache and embeds the misses in one call.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := c.get(ctx, c.key(text)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, &rag.EmbeddingError{Err: fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(missing))}
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.set(ctx, c.key(missing[j]), v)
	}
	return out, nil
}

// GetDimension returns the wrapped embedder's dimension.
func (c *CachedEmbedder) GetDimension() int {
	return c.embedder.GetDimension()
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache read failed: %v", err)
		}
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil || len(v) == 0 {
		c.logger.Warn("embedding cache entry %s is corrupt, ignoring it", key)
		return nil, false
	}
	return v, true
}

func (c *CachedEmbedder) set(ctx context.Context, key string, v []float32) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed: %v", err)
	}
}
