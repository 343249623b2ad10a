// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.localrag/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Providers: embedding/text-generation provider selection and models
//   - Storage: PostgreSQL + pgvector connection (see storage.go)
//   - Pipeline: chunking sizes, vector index, schema sampling
//   - Cache: staged-document cache limits
//
// Validation is fail-fast with sentinel errors so callers can use errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the provider name is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidDimensions indicates the embedding dimension is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidChunking indicates chunk size/overlap settings are unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgres indicates the PostgreSQL settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidCache indicates the document cache settings are invalid.
	ErrInvalidCache = errors.New("invalid cache configuration")
)

// Provider identifiers used in Config.Provider and per-call overrides.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config stores application configuration.
type Config struct {
	// Provider selection. Ollama is the always-available local default;
	// openai and gemini are remote providers selectable per call.
	Provider       string `mapstructure:"provider" json:"provider"`
	OllamaHost     string `mapstructure:"ollama_host" json:"ollama_host"`
	LLMModel       string `mapstructure:"llm_model" json:"llm_model"`
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`

	// Remote provider models. API keys come from OPENAI_API_KEY and
	// GEMINI_API_KEY, read by the provider constructors, never stored here.
	OpenAIEmbeddingModel string `mapstructure:"openai_embedding_model" json:"openai_embedding_model"`
	GeminiEmbeddingModel string `mapstructure:"gemini_embedding_model" json:"gemini_embedding_model"`

	// EmbeddingDimensions is the deployment-wide vector dimension. Every
	// chunk in the store must share it; see store.ErrDimensionMismatch.
	EmbeddingDimensions int `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`

	// OfflineFallback degrades failed default-provider embedding calls to
	// zero vectors instead of failing the ingestion. Meant for test and
	// offline environments.
	OfflineFallback bool `mapstructure:"offline_fallback" json:"offline_fallback"`

	// Vector index settings.
	IndexName   string `mapstructure:"index_name" json:"index_name"`
	IndexMetric string `mapstructure:"index_metric" json:"index_metric"`

	// Chunking settings.
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Schema-inference sampling. SampleMaxChars, when set, silently takes
	// precedence over SamplePercent; see the orchestrator for details.
	SamplePercent  int `mapstructure:"sample_percent" json:"sample_percent"`
	SampleMaxChars int `mapstructure:"sample_max_chars" json:"sample_max_chars"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Document cache configuration.
	CacheTTLMinutes     int `mapstructure:"cache_ttl_minutes" json:"cache_ttl_minutes"`
	CacheMaxDocuments   int `mapstructure:"cache_max_documents" json:"cache_max_documents"`
	CacheCleanupMinutes int `mapstructure:"cache_cleanup_minutes" json:"cache_cleanup_minutes"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".localrag")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* values.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("llm_model", "qwen3:8b")
	v.SetDefault("embedding_model", "nomic-embed-text")
	v.SetDefault("openai_embedding_model", "text-embedding-3-small")
	v.SetDefault("gemini_embedding_model", "gemini-embedding-001")
	v.SetDefault("embedding_dimensions", 768)
	v.SetDefault("offline_fallback", false)

	// Index defaults
	v.SetDefault("index_name", "document_embeddings")
	v.SetDefault("index_metric", "cosine")

	// Chunking defaults
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	// Schema sampling defaults
	v.SetDefault("sample_percent", 0)
	v.SetDefault("sample_max_chars", 4000)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "localrag")
	v.SetDefault("postgres_password", "localrag_dev_password")
	v.SetDefault("postgres_db_name", "localrag")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Cache defaults
	v.SetDefault("cache_ttl_minutes", 30)
	v.SetDefault("cache_max_documents", 100)
	v.SetDefault("cache_cleanup_minutes", 5)
}

// bindEnvVariables binds environment variable overrides explicitly.
// API keys (OPENAI_API_KEY, GEMINI_API_KEY) are read directly by the
// provider constructors, not via Viper; Validate() checks their presence
// based on the selected default provider.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "LOCALRAG_PROVIDER")
	mustBind("ollama_host", "LOCALRAG_OLLAMA_HOST")
	mustBind("llm_model", "LOCALRAG_LLM_MODEL")
	mustBind("embedding_model", "LOCALRAG_EMBEDDING_MODEL")
	mustBind("embedding_dimensions", "LOCALRAG_EMBEDDING_DIMENSIONS")
	mustBind("offline_fallback", "LOCALRAG_OFFLINE_FALLBACK")
	mustBind("postgres_password", "LOCALRAG_POSTGRES_PASSWORD")
}
