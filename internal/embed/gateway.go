// Package embed provides the embedding gateway: one capability that turns N
// strings into N equal-length vectors, regardless of which backend serves
// the call.
//
// The gateway owns batching, retry with exponential backoff, rate limiting,
// and dimension bookkeeping. Callers see either eventual success or one
// terminal failure; partial retries never leak through.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/localrag/localrag/internal/provider"
)

var (
	// ErrCountMismatch indicates a provider returned a different number of
	// vectors than texts sent. Fatal, never corrected.
	ErrCountMismatch = errors.New("embedding count mismatch")

	// ErrInconsistentDimensions indicates a single response carried vectors
	// of differing lengths. Fatal, never corrected.
	ErrInconsistentDimensions = errors.New("inconsistent embedding dimensions")
)

// RetryConfig configures the per-batch retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // retry attempts after the first call
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Config configures the Gateway.
type Config struct {
	// Dimensions is the expected embedding dimension D for the deployment.
	Dimensions int

	// OfflineFallback degrades failed default-provider calls to zero
	// vectors of the expected dimension instead of failing the caller.
	// Remote providers never degrade this way.
	OfflineFallback bool

	// Retry configures backoff; zero value means DefaultRetryConfig().
	Retry RetryConfig

	// RatePerSecond throttles provider calls when positive.
	RatePerSecond float64
}

// Gateway dispatches embedding requests to the registered providers.
//
// Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	registry *provider.Registry
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Gateway over the given provider registry. A nil logger uses
// slog.Default().
func New(registry *provider.Registry, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Gateway{
		registry: registry,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}
}

// Dimensions returns the expected embedding dimension D.
func (g *Gateway) Dimensions() int { return g.cfg.Dimensions }

// Embed turns texts into vectors using the named provider (empty name means
// the configured default). Postcondition: len(result) == len(texts), or an
// error — never a shorter or longer list.
//
// The degraded return is true when the call fell back to zero vectors
// because the default provider was unreachable. Callers that persist the
// result should record that, and callers that search with it should not
// bother.
func (g *Gateway) Embed(ctx context.Context, texts []string, providerName string) (vectors [][]float32, degraded bool, err error) {
	if len(texts) == 0 {
		return [][]float32{}, false, nil
	}

	p, err := g.registry.Get(providerName)
	if err != nil {
		return nil, false, err
	}

	vectors, err = g.embedAll(ctx, p, texts)
	if err != nil {
		// Dimension and count violations stay fatal even offline;
		// absorbing them would silently corrupt retrieval quality.
		if errors.Is(err, ErrCountMismatch) || errors.Is(err, ErrInconsistentDimensions) {
			return nil, false, err
		}
		if g.cfg.OfflineFallback && p.Name() == g.registry.DefaultName() {
			g.logger.Warn("default provider embedding failed, returning zero vectors",
				"provider", p.Name(), "texts", len(texts), "error", err)
			return ZeroVectors(len(texts), g.cfg.Dimensions), true, nil
		}
		return nil, false, err
	}

	if len(vectors) != len(texts) {
		return nil, false, fmt.Errorf("%w: expected %d, got %d from %s",
			ErrCountMismatch, len(texts), len(vectors), p.Name())
	}
	return vectors, false, nil
}

// embedAll splits texts into provider-sized batches and embeds each one.
func (g *Gateway) embedAll(ctx context.Context, p provider.Provider, texts []string) ([][]float32, error) {
	batchSize := p.MaxBatchSize()
	if batchSize <= 0 || batchSize > len(texts) {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := g.embedBatch(ctx, p, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: batch [%d:%d] expected %d, got %d from %s",
				ErrCountMismatch, start, end, len(batch), len(vectors), p.Name())
		}
		if err := g.checkDimensions(vectors, p.Name()); err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// embedBatch calls the provider with exponential backoff on rate-limit and
// server errors, honoring a server-specified minimum wait when present.
// Non-retryable failures (auth, malformed request, unreachable endpoint)
// surface immediately.
func (g *Gateway) embedBatch(ctx context.Context, p provider.Provider, batch []string) ([][]float32, error) {
	var lastErr error
	delay := g.cfg.Retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.cfg.Retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		vectors, err := p.GenerateEmbeddings(ctx, batch)
		if err == nil {
			g.logger.Debug("embedding batch succeeded",
				"provider", p.Name(), "size", len(batch),
				"attempts", attempt+1, "elapsed", time.Since(start))
			return vectors, nil
		}

		lastErr = err

		wait, retryable := retryDelay(err, delay)
		if !retryable {
			return nil, fmt.Errorf("embedding via %s: %w", p.Name(), err)
		}
		if attempt == g.cfg.Retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying embedding batch",
			"provider", p.Name(), "attempt", attempt+1, "delay", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
			delay = min(delay*2, g.cfg.Retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("embedding via %s failed after %d attempts (elapsed %v): %w",
		p.Name(), g.cfg.Retry.MaxRetries+1, time.Since(start), lastErr)
}

// retryDelay classifies the error and picks the next wait. A server-supplied
// Retry-After longer than the scheduled backoff takes precedence.
func retryDelay(err error, scheduled time.Duration) (wait time.Duration, retryable bool) {
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) || !statusErr.Retryable() {
		return 0, false
	}
	if statusErr.RetryAfter > scheduled {
		return statusErr.RetryAfter, true
	}
	return scheduled, true
}

// checkDimensions verifies every vector in one response has the same length.
func (g *Gateway) checkDimensions(vectors [][]float32, providerName string) error {
	if len(vectors) == 0 {
		return nil
	}
	want := len(vectors[0])
	for i, v := range vectors[1:] {
		if len(v) != want {
			return fmt.Errorf("%w: vector 0 has %d, vector %d has %d (provider %s)",
				ErrInconsistentDimensions, want, i+1, len(v), providerName)
		}
	}
	return nil
}

// ZeroVectors returns n zero vectors of the given dimension, the degraded
// substitute for failed embedding generation.
func ZeroVectors(n, dim int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
	}
	return vectors
}
