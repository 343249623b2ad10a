// Package provider implements the embedding and text-generation backends.
//
// Each backend (ollama, openai, gemini) is an independent implementation of
// the Provider interface — no shared base type. A Registry selects the
// backend by name, defaulting to the configured provider, so callers can
// override the backend per call.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotConfigured indicates a required credential for the chosen
	// provider is missing. Fatal for that provider; never retried.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnavailable indicates the provider endpoint could not be reached.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrUnknownProvider indicates a provider name with no registration.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider is the single capability every backend implements: turn N texts
// into N equal-length vectors, and turn a prompt into generated text.
type Provider interface {
	// Name returns the provider identifier ("ollama", "openai", "gemini").
	Name() string

	// GenerateEmbeddings issues one batched embedding call for texts.
	// Batching across calls is the embedding gateway's job, not the
	// provider's; len(texts) is already within MaxBatchSize.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// GenerateText returns generated text (or structured JSON, when the
	// prompt demands it) for the given prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// MaxBatchSize returns the largest embedding batch the provider
	// accepts per request. Zero means unbounded (single batched call).
	MaxBatchSize() int

	// Healthy reports whether the provider endpoint is reachable.
	Healthy(ctx context.Context) bool
}

// StatusError is an HTTP-level provider failure. Status 429 and 5xx are
// retryable by the embedding gateway; everything else fails immediately.
type StatusError struct {
	Provider   string
	Op         string
	StatusCode int

	// RetryAfter is the server-specified minimum wait, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s %s: HTTP %d (retry after %s)", e.Provider, e.Op, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Provider, e.Op, e.StatusCode)
}

// Retryable reports whether the status code warrants a backoff retry.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// parseRetryAfter parses a Retry-After header value in seconds.
// Returns zero for absent or malformed values.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Registry holds the registered providers and the default selection.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates a registry whose empty-name lookups resolve to
// defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}
}

// Register adds a provider, replacing any previous one with the same name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider for name, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// DefaultName returns the name empty lookups resolve to.
func (r *Registry) DefaultName() string {
	return r.defaultName
}
