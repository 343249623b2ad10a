package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Embedding dimension bounds. pgvector indexes support up to 2000 dimensions
// for hnsw; anything below 8 is not a usable text embedding.
const (
	MinEmbeddingDimensions = 8
	MaxEmbeddingDimensions = 2000
)

// Validate checks the configuration for invalid values. It is called by
// Load() so that a process never starts with a broken configuration.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("%w: %q (expected %s, %s or %s)",
			ErrInvalidProvider, c.Provider, ProviderOllama, ProviderOpenAI, ProviderGemini)
	}

	// Remote default providers need their key up front; per-call overrides
	// are checked again at provider construction.
	switch c.Provider {
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	}

	if err := c.validateOllamaHost(); err != nil {
		return err
	}

	if c.EmbeddingDimensions < MinEmbeddingDimensions || c.EmbeddingDimensions > MaxEmbeddingDimensions {
		return fmt.Errorf("%w: %d (expected %d-%d)",
			ErrInvalidDimensions, c.EmbeddingDimensions, MinEmbeddingDimensions, MaxEmbeddingDimensions)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.SamplePercent < 0 || c.SamplePercent > 100 {
		return fmt.Errorf("%w: sample_percent %d must be in [0, 100]", ErrInvalidChunking, c.SamplePercent)
	}
	if c.SampleMaxChars < 0 {
		return fmt.Errorf("%w: sample_max_chars must not be negative", ErrInvalidChunking)
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}

	if c.CacheTTLMinutes <= 0 {
		return fmt.Errorf("%w: cache_ttl_minutes must be positive, got %d", ErrInvalidCache, c.CacheTTLMinutes)
	}
	if c.CacheMaxDocuments <= 0 {
		return fmt.Errorf("%w: cache_max_documents must be positive, got %d", ErrInvalidCache, c.CacheMaxDocuments)
	}
	if c.CacheCleanupMinutes <= 0 {
		return fmt.Errorf("%w: cache_cleanup_minutes must be positive, got %d", ErrInvalidCache, c.CacheCleanupMinutes)
	}

	return nil
}

func (c *Config) validateOllamaHost() error {
	if c.OllamaHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidOllamaHost)
	}

	u, err := url.Parse(c.OllamaHost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOllamaHost, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidOllamaHost, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidOllamaHost, c.OllamaHost)
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgres)
	}

	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}
