package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/localrag/localrag/internal/embed"
	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/store"
)

const testDim = 4

// mockSearcher is a tracking Searcher.
type mockSearcher struct {
	available bool
	dimension int

	nearest     []store.Source
	nearestErr  error
	contains    []store.Source
	containsErr error

	nearestCalls  int
	containsCalls int
	lastSubstring string
}

func (m *mockSearcher) Available() bool { return m.available }

func (m *mockSearcher) Dimension(context.Context) (int, error) {
	if !m.available {
		return 0, store.ErrUnavailable
	}
	return m.dimension, nil
}

func (m *mockSearcher) NearestNeighbors(_ context.Context, vec []float32, _ int) ([]store.Source, error) {
	m.nearestCalls++
	return m.nearest, m.nearestErr
}

func (m *mockSearcher) TextContains(_ context.Context, substring string, _ int) ([]store.Source, error) {
	m.containsCalls++
	m.lastSubstring = substring
	return m.contains, m.containsErr
}

// fakeProvider returns fixed-dimension vectors or a queued error.
type fakeProvider struct {
	name     string
	dim      int
	embedErr error
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) MaxBatchSize() int            { return 0 }
func (f *fakeProvider) Healthy(context.Context) bool { return true }

func (f *fakeProvider) GenerateText(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func newTestRetriever(t *testing.T, p *fakeProvider, st Searcher, offlineFallback bool) *Retriever {
	t.Helper()

	registry := provider.NewRegistry(p.name)
	registry.Register(p)
	gateway := embed.New(registry, embed.Config{
		Dimensions:      testDim,
		OfflineFallback: offlineFallback,
		Retry:           embed.RetryConfig{MaxRetries: 0, InitialInterval: 1, MaxInterval: 1},
	}, log.NewNop())

	r, err := New(gateway, st, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func someSources(texts ...string) []store.Source {
	out := make([]store.Source, len(texts))
	for i, txt := range texts {
		out[i] = store.Source{Text: txt, Score: 0.9}
	}
	return out
}

func TestRetrieveEmptyQuestion(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{available: true, dimension: testDim}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	got, err := r.Retrieve(context.Background(), "   ", 5)
	if err != nil || got != nil {
		t.Errorf("blank question: got %v, %v; want nil, nil", got, err)
	}
}

func TestRetrieveSimilarityPath(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{
		available: true,
		dimension: testDim,
		nearest:   someSources("relevant chunk"),
	}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	got, err := r.Retrieve(context.Background(), "what is gravity", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Text != "relevant chunk" {
		t.Errorf("got %v", got)
	}
	if st.containsCalls != 0 {
		t.Error("fallback should not run when similarity finds results")
	}
}

func TestRetrieveDegradedStoreReturnsEmpty(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{available: false}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	got, err := r.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("degraded store must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if st.nearestCalls != 0 || st.containsCalls != 0 {
		t.Error("no store queries should run against an unavailable store")
	}
}

func TestRetrieveDimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	// Store expects a different dimension than the provider produces.
	st := &mockSearcher{
		available: true,
		dimension: testDim + 4,
		contains:  someSources("would match"),
	}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	_, err := r.Retrieve(context.Background(), "question", 5)
	if !errors.Is(err, store.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if st.nearestCalls != 0 {
		t.Error("no similarity query may run on a dimension mismatch")
	}
	if st.containsCalls != 0 {
		t.Error("dimension mismatch must not fall back to substring search")
	}
}

// emptyProvider answers every embedding request with no vectors.
type emptyProvider struct{ fakeProvider }

func (e *emptyProvider) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return [][]float32{}, nil
}

func TestRetrieveCountMismatchNeverFallsBack(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{available: true, dimension: testDim, contains: someSources("hit")}
	p := &emptyProvider{fakeProvider{name: "ollama", dim: testDim}}

	registry := provider.NewRegistry(p.Name())
	registry.Register(p)
	gateway := embed.New(registry, embed.Config{
		Dimensions: testDim,
		Retry:      embed.RetryConfig{MaxRetries: 0, InitialInterval: 1, MaxInterval: 1},
	}, log.NewNop())
	r, err := New(gateway, st, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Retrieve(context.Background(), "question", 5)
	if !errors.Is(err, embed.ErrCountMismatch) {
		t.Errorf("want ErrCountMismatch, got %v", err)
	}
	if st.containsCalls != 0 {
		t.Errorf("substring fallback ran %d times, want 0", st.containsCalls)
	}
}

func TestRetrieveFallsBackOnEmptySimilarity(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{
		available: true,
		dimension: testDim,
		contains:  someSources("substring match"),
	}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	got, err := r.Retrieve(context.Background(), "rare term", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Text != "substring match" {
		t.Errorf("got %v, want the substring fallback result", got)
	}
	if st.lastSubstring != "rare term" {
		t.Errorf("fallback searched for %q, want the question text", st.lastSubstring)
	}
}

func TestRetrieveFallbackDisabled(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{
		available: true,
		dimension: testDim,
		contains:  someSources("substring match"),
	}
	r := newTestRetriever(t, &fakeProvider{name: "ollama", dim: testDim}, st, false)

	got, err := r.Retrieve(context.Background(), "rare term", 5, WithFallback(false))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty with fallback disabled", got)
	}
	if st.containsCalls != 0 {
		t.Error("substring search must not run when disabled")
	}
}

func TestRetrieveProviderFailureRoutesToFallback(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{
		available: true,
		dimension: testDim,
		contains:  someSources("substring match"),
	}
	p := &fakeProvider{name: "ollama", dim: testDim, embedErr: provider.ErrUnavailable}
	r := newTestRetriever(t, p, st, false)

	got, err := r.Retrieve(context.Background(), "question", 5)
	if err != nil {
		t.Fatalf("fallback should answer when the provider is down: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %v", got)
	}
	if st.nearestCalls != 0 {
		t.Error("no similarity query without an embedding")
	}
}

func TestRetrieveZeroVectorRoutesToFallback(t *testing.T) {
	t.Parallel()

	// With offline fallback on, the gateway degrades to zero vectors;
	// retrieval must not search with them.
	st := &mockSearcher{
		available: true,
		dimension: testDim,
		contains:  someSources("substring match"),
	}
	p := &fakeProvider{name: "ollama", dim: testDim, embedErr: provider.ErrUnavailable}
	r := newTestRetriever(t, p, st, true)

	got, err := r.Retrieve(context.Background(), "question", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Text != "substring match" {
		t.Errorf("got %v", got)
	}
	if st.nearestCalls != 0 {
		t.Error("zero vectors must not reach the similarity query")
	}
}

func TestRetrieveBothPathsExhausted(t *testing.T) {
	t.Parallel()

	st := &mockSearcher{available: true, dimension: testDim}
	p := &fakeProvider{name: "ollama", dim: testDim, embedErr: provider.ErrUnavailable}
	r := newTestRetriever(t, p, st, false)

	_, err := r.Retrieve(context.Background(), "question", 5)
	if err == nil {
		t.Fatal("want the embedding error once the fallback also comes up empty")
	}
	if st.containsCalls != 1 {
		t.Error("fallback should have been attempted")
	}
}
