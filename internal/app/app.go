// Package app wires configuration, providers, storage and the pipeline
// components into one application object with a single Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/localrag/localrag/db"
	"github.com/localrag/localrag/internal/cache"
	"github.com/localrag/localrag/internal/chunk"
	"github.com/localrag/localrag/internal/config"
	"github.com/localrag/localrag/internal/embed"
	"github.com/localrag/localrag/internal/ingest"
	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/retrieve"
	"github.com/localrag/localrag/internal/store"
)

// App holds every initialized component. Build with Setup, release with
// Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Store     *store.Store
	Registry  *provider.Registry
	Gateway   *embed.Gateway
	Cache     *cache.Cache
	Ingestor  *ingest.Orchestrator
	Retriever *retrieve.Retriever
}

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	st, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	registry, err := provideProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	a.Gateway = embed.New(registry, embed.Config{
		Dimensions:      cfg.EmbeddingDimensions,
		OfflineFallback: cfg.OfflineFallback,
		Retry:           embed.DefaultRetryConfig(),
	}, logger)

	a.Cache = cache.New(cache.Config{
		TTL:             time.Duration(cfg.CacheTTLMinutes) * time.Minute,
		MaxDocuments:    cfg.CacheMaxDocuments,
		CleanupInterval: time.Duration(cfg.CacheCleanupMinutes) * time.Minute,
	}, logger)

	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("building splitter: %w", err)
	}

	a.Ingestor, err = ingest.New(splitter, a.Gateway, st, registry, ingest.Config{
		SamplePercent:  cfg.SamplePercent,
		SampleMaxChars: cfg.SampleMaxChars,
	}, logger)
	if err != nil {
		return nil, err
	}

	a.Retriever, err = retrieve.New(a.Gateway, st, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases everything Setup acquired. Safe on a partially built App.
func (a *App) Close() {
	if a.Cache != nil {
		a.Cache.Stop()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

// provideStore migrates the schema and connects the vector store adapter.
// An unreachable database is not fatal; the store comes up degraded and
// the pipeline records that on every write.
func provideStore(ctx context.Context, cfg *config.Config, logger log.Logger) (*store.Store, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		logger.Warn("migrations failed, store may be degraded", "error", err)
	}

	st, err := store.New(ctx, cfg.PostgresConnectionString(), store.IndexConfig{
		Name:       cfg.IndexName,
		Dimensions: cfg.EmbeddingDimensions,
		Metric:     cfg.IndexMetric,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building store: %w", err)
	}

	if err := st.EnsureIndex(ctx); err != nil {
		if errors.Is(err, store.ErrDimensionMismatch) {
			st.Close()
			return nil, err
		}
		logger.Warn("vector index setup failed", "error", err)
	}
	return st, nil
}

// provideProviders registers every usable embedding provider. The
// configured default must initialize; the others are best-effort so a
// missing API key only removes that provider from the registry.
func provideProviders(ctx context.Context, cfg *config.Config, logger log.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry(cfg.Provider)

	registry.Register(provider.NewOllama(provider.OllamaConfig{
		BaseURL:    cfg.OllamaHost,
		EmbedModel: cfg.EmbeddingModel,
		LLMModel:   cfg.LLMModel,
	}, logger))

	if p, err := provider.NewOpenAI(provider.OpenAIConfig{
		EmbedModel: cfg.OpenAIEmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	}, logger); err == nil {
		registry.Register(p)
	} else if cfg.Provider == config.ProviderOpenAI {
		return nil, fmt.Errorf("default provider: %w", err)
	}

	if p, err := provider.NewGemini(ctx, provider.GeminiConfig{
		EmbedModel: cfg.GeminiEmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	}, logger); err == nil {
		registry.Register(p)
	} else if cfg.Provider == config.ProviderGemini {
		return nil, fmt.Errorf("default provider: %w", err)
	}

	return registry, nil
}
