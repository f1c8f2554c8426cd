package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/smallnest/graphrag/config"
	"github.com/smallnest/graphrag/llms/lmstudio"
	"github.com/smallnest/graphrag/log"
	"github.com/smallnest/graphrag/rag"
	"github.com/smallnest/graphrag/rag/cache"
	"github.com/smallnest/graphrag/rag/engine"
	"github.com/smallnest/graphrag/rag/store"
)

// app holds the collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	client   *lmstudio.Client
	embedder rag.Embedder
	vectors  rag.VectorStore
	graph    rag.GraphStore
	engine   *engine.GraphRAGEngine
	redis    *redis.Client
}

type schemaInitializer interface {
	InitSchema(ctx context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.NewWriterLogger(os.Stderr, cfg.Level())
	log.SetDefaultLogger(logger)
	a := &app{cfg: cfg, logger: logger}

	client, err := lmstudio.New(
		lmstudio.WithBaseURL(cfg.LMStudioBaseURL),
		lmstudio.WithAPIKey(cfg.LMStudioAPIKey),
		lmstudio.WithModel(cfg.LLMModel),
		lmstudio.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}
	a.client = client

	adapterOpts := []rag.AdapterOption{
		rag.WithTimeout(cfg.RequestTimeout),
		rag.WithLogger(logger),
		rag.WithLanguage(cfg.Language()),
	}
	if cfg.LLMRateLimit > 0 {
		// Embedding and completion calls share one limiter.
		adapterOpts = append(adapterOpts, rag.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.LLMRateLimit), 1)))
	}

	lcEmbedder, err := client.Embedder()
	if err != nil {
		return nil, err
	}
	a.embedder = rag.NewLangChainEmbedder(lcEmbedder, cfg.EmbeddingDimensions, adapterOpts...)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = rc
		a.embedder = cache.NewCachedEmbedder(a.embedder, rc, cache.Options{
			Model:  cfg.EmbeddingModel,
			TTL:    cfg.EmbeddingCacheTTL,
			Logger: logger,
		})
		logger.Info("embedding cache enabled")
	}
	generator := rag.NewLangChainGenerator(client.LLM(), adapterOpts...)

	a.vectors, err = store.NewVectorStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDimensions)
	if err != nil {
		a.close()
		return nil, err
	}
	a.graph, err = store.NewGraphStore(ctx, cfg.EffectiveGraphURL(), cfg.GraphName)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.graph == nil {
		logger.Info("graph store disabled")
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithModelLister(client),
	}
	if a.graph != nil {
		engineOpts = append(engineOpts, engine.WithGraphStore(a.graph))
	}
	a.engine, err = engine.NewGraphRAGEngine(engine.Config{
		Language:       cfg.Language(),
		Generation:     rag.DefaultGenerationParams(),
		StorageTimeout: cfg.StorageTimeout,
		HealthTimeout:  cfg.HealthTimeout,
	}, a.embedder, a.vectors, generator, engineOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// initSchema creates the tables, indexes and graph of every store that needs them.
func (a *app) initSchema(ctx context.Context) error {
	if s, ok := a.vectors.(schemaInitializer); ok {
		if err := s.InitSchema(ctx); err != nil {
			return fmt.Errorf("vector store schema: %w", err)
		}
	}
	if s, ok := a.graph.(schemaInitializer); ok {
		if err := s.InitSchema(ctx); err != nil {
			return fmt.Errorf("graph store schema: %w", err)
		}
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Shutdown())
	} else {
		if a.graph != nil {
			errs = append(errs, a.graph.Close())
		}
		if a.vectors != nil {
			errs = append(errs, a.vectors.Close())
		}
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
