package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"
)

// geminiMaxBatch is the largest content list sent per EmbedContent request.
const geminiMaxBatch = 100

// Gemini is a remote backend on the Gemini API via the official SDK.
type Gemini struct {
	client     *genai.Client
	embedModel string
	genModel   string
	dimensions int32
	logger     *slog.Logger
}

// GeminiConfig configures the Gemini provider. The API key always comes
// from the GEMINI_API_KEY environment variable.
type GeminiConfig struct {
	EmbedModel string // e.g. "gemini-embedding-001"
	GenModel   string // e.g. "gemini-2.5-flash"
	Dimensions int    // requested embedding dimensionality (Matryoshka truncation)
}

// NewGemini creates a Gemini provider. It fails fast with ErrNotConfigured
// when GEMINI_API_KEY is unset.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GenModel == "" {
		cfg.GenModel = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:     client,
		embedModel: cfg.EmbedModel,
		genModel:   cfg.GenModel,
		dimensions: int32(cfg.Dimensions), //nolint:gosec // bounded by config validation
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (*Gemini) Name() string { return "gemini" }

// MaxBatchSize implements Provider.
func (*Gemini) MaxBatchSize() int { return geminiMaxBatch }

// Healthy implements Provider. Reachability of the Gemini API is only known
// at call time.
func (*Gemini) Healthy(context.Context) bool { return true }

// GenerateEmbeddings implements Provider. The SDK response embeddings are
// aligned by index to the input contents.
func (g *Gemini) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := g.dimensions
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		embeddings[i] = e.Values
	}
	return embeddings, nil
}

// GenerateText implements Provider.
func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.genModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}
