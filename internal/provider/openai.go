package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// openAIMaxBatch is the largest input list sent per embeddings request.
const openAIMaxBatch = 100

// OpenAI is a remote embedding and chat-completion backend.
type OpenAI struct {
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
	dimensions int
	client     *http.Client
	logger     *slog.Logger
}

// OpenAIConfig configures the OpenAI provider. The API key always comes
// from the OPENAI_API_KEY environment variable.
type OpenAIConfig struct {
	BaseURL    string // defaults to https://api.openai.com/v1
	EmbedModel string // e.g. "text-embedding-3-small"
	ChatModel  string // e.g. "gpt-4o-mini"
	Dimensions int    // requested embedding dimensionality
	Timeout    time.Duration
}

// NewOpenAI creates an OpenAI provider. It fails fast with ErrNotConfigured
// when OPENAI_API_KEY is unset, before any network I/O can happen.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (*OpenAI) Name() string { return "openai" }

// MaxBatchSize implements Provider.
func (*OpenAI) MaxBatchSize() int { return openAIMaxBatch }

// Healthy implements Provider. Remote reachability is only known at call
// time; a configured client is assumed healthy.
func (*OpenAI) Healthy(context.Context) bool { return true }

// GenerateEmbeddings implements Provider via POST /embeddings. The response
// data is ordered by index, aligned with the input.
func (c *OpenAI) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions,omitempty"`
	}{Model: c.embedModel, Input: texts, Dimensions: c.dimensions}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/embeddings", payload, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		idx := d.Index
		if idx < 0 || idx >= len(embeddings) {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}
	return embeddings, nil
}

// GenerateText implements Provider via POST /chat/completions.
func (c *OpenAI) GenerateText(ctx context.Context, prompt string) (string, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	payload := struct {
		Model       string    `json:"model"`
		Messages    []message `json:"messages"`
		Temperature float32   `json:"temperature"`
	}{
		Model:       c.chatModel,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", payload, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *OpenAI) postJSON(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai %s: encoding request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai %s: building request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: openai %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{
			Provider:   "openai",
			Op:         path,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("openai %s: decoding response: %w", path, err)
	}
	return nil
}
