// Package retrieve answers questions against the chunk store by vector
// similarity, falling back to substring matching when embeddings cannot be
// produced or produce nothing.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/localrag/localrag/internal/embed"
	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/store"
)

// DefaultLimit is the number of sources returned when the caller passes a
// non-positive k.
const DefaultLimit = 5

type options struct {
	fallback     bool
	providerName string
}

// Option adjusts a single Retrieve call.
type Option func(*options)

// WithFallback toggles the substring fallback. Enabled by default.
func WithFallback(enabled bool) Option {
	return func(o *options) { o.fallback = enabled }
}

// WithProvider selects the embedding provider for this call. Empty means
// the configured default.
func WithProvider(name string) Option {
	return func(o *options) { o.providerName = name }
}

// Searcher is the slice of the chunk store retrieval reads from.
// Satisfied by *store.Store.
type Searcher interface {
	Available() bool
	Dimension(ctx context.Context) (int, error)
	NearestNeighbors(ctx context.Context, vec []float32, limit int) ([]store.Source, error)
	TextContains(ctx context.Context, substring string, limit int) ([]store.Source, error)
}

// Retriever performs similarity search over ingested chunks.
type Retriever struct {
	gateway *embed.Gateway
	store   Searcher
	logger  log.Logger
}

// New builds a Retriever.
func New(gateway *embed.Gateway, st Searcher, logger log.Logger) (*Retriever, error) {
	if gateway == nil || st == nil {
		return nil, fmt.Errorf("gateway and store are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{gateway: gateway, store: st, logger: logger}, nil
}

// Retrieve returns up to k sources relevant to the question, most similar
// first. A dimension mismatch between the question embedding and the store
// is fatal and never silently falls back; provider failures and empty
// similarity results do fall back to substring search unless disabled.
//
// Against a degraded store Retrieve returns an empty result and no error;
// callers can tell the difference through store.Available.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, opts ...Option) ([]store.Source, error) {
	o := options{fallback: true}
	for _, opt := range opts {
		opt(&o)
	}
	if k <= 0 {
		k = DefaultLimit
	}
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	if !r.store.Available() {
		r.logger.Warn("retrieval against unavailable store, returning empty")
		return nil, nil
	}

	vecs, degraded, err := r.gateway.Embed(ctx, []string{question}, o.providerName)
	if err != nil || degraded {
		// A count or dimension violation is a broken provider response,
		// not an unreachable provider; never absorb it in the fallback.
		if errors.Is(err, embed.ErrCountMismatch) || errors.Is(err, embed.ErrInconsistentDimensions) {
			return nil, fmt.Errorf("embedding question: %w", err)
		}
		if err == nil {
			// Zero vectors are useless as a query; treat like an
			// unreachable provider.
			err = fmt.Errorf("embedding question: %w", provider.ErrUnavailable)
		}
		if !o.fallback {
			return nil, err
		}
		r.logger.Warn("question embedding failed, using substring fallback", "error", err)
		return r.fallbackSearch(ctx, question, k, err)
	}
	vec := vecs[0]

	dim, err := r.store.Dimension(ctx)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("question embedding has %d dimensions, store expects %d: %w",
			len(vec), dim, store.ErrDimensionMismatch)
	}

	sources, err := r.store.NearestNeighbors(ctx, vec, k)
	if err != nil {
		if errors.Is(err, store.ErrDimensionMismatch) || !o.fallback {
			return nil, err
		}
		r.logger.Warn("similarity search failed, using substring fallback", "error", err)
		return r.fallbackSearch(ctx, question, k, err)
	}
	if len(sources) == 0 && o.fallback {
		return r.fallbackSearch(ctx, question, k, nil)
	}
	return sources, nil
}

// fallbackSearch runs the substring path. cause, when non-nil, is the error
// that forced the fallback; it is propagated only when the fallback also
// comes up empty-handed.
func (r *Retriever) fallbackSearch(ctx context.Context, question string, k int, cause error) ([]store.Source, error) {
	sources, err := r.store.TextContains(ctx, question, k)
	if err != nil {
		if cause != nil {
			return nil, fmt.Errorf("substring fallback after %v: %w", cause, err)
		}
		return nil, err
	}
	if len(sources) == 0 && cause != nil {
		return nil, cause
	}
	return sources, nil
}
