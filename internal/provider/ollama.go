package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama talks to a locally reachable Ollama server. It is the
// always-available default backend and needs no credentials.
type Ollama struct {
	baseURL    string
	embedModel string
	llmModel   string
	client     *http.Client
	logger     *slog.Logger
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL    string // e.g. "http://localhost:11434"
	EmbedModel string // e.g. "nomic-embed-text"
	LLMModel   string // e.g. "qwen3:8b"
	Timeout    time.Duration
}

// NewOllama creates an Ollama provider. A nil logger uses slog.Default().
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Ollama{
		baseURL:    cfg.BaseURL,
		embedModel: cfg.EmbedModel,
		llmModel:   cfg.LLMModel,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name implements Provider.
func (*Ollama) Name() string { return "ollama" }

// MaxBatchSize implements Provider. Ollama takes the whole input in one
// batched call.
func (*Ollama) MaxBatchSize() int { return 0 }

// Healthy reports whether the Ollama server answers on its base URL.
func (o *Ollama) Healthy(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, o.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Debug("ollama health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// GenerateEmbeddings implements Provider via POST /api/embed.
func (o *Ollama) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: o.embedModel, Input: texts}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := o.postJSON(ctx, "/api/embed", payload, &result); err != nil {
		return nil, err
	}
	if result.Embeddings == nil {
		return nil, fmt.Errorf("ollama embed: %q key not found in response", "embeddings")
	}
	return result.Embeddings, nil
}

// GenerateText implements Provider via POST /api/generate. The response is
// requested in JSON format because every caller of this capability expects
// structured output.
func (o *Ollama) GenerateText(ctx context.Context, prompt string) (string, error) {
	payload := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
		Format string `json:"format"`
	}{Model: o.llmModel, Prompt: prompt, Stream: false, Format: "json"}

	var result struct {
		Response string `json:"response"`
	}
	if err := o.postJSON(ctx, "/api/generate", payload, &result); err != nil {
		return "", err
	}
	return result.Response, nil
}

// postJSON posts a JSON body and decodes a JSON response, translating
// transport failures to ErrUnavailable and HTTP failures to *StatusError.
func (o *Ollama) postJSON(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollama %s: encoding request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama %s: building request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: ollama %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{
			Provider:   "ollama",
			Op:         path,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("ollama %s: decoding response: %w", path, err)
	}
	return nil
}
