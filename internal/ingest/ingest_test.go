package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/localrag/localrag/internal/chunk"
	"github.com/localrag/localrag/internal/embed"
	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/store"
)

// mockStore is a tracking Persister.
type mockStore struct {
	available bool
	insertErr error

	insertedDoc    store.Document
	insertedChunks []store.Chunk
	extractions    map[string]store.Extraction
}

func newMockStore(available bool) *mockStore {
	return &mockStore{available: available, extractions: make(map[string]store.Extraction)}
}

func (m *mockStore) Available() bool                   { return m.available }
func (m *mockStore) EnsureIndex(context.Context) error { return nil }

func (m *mockStore) InsertDocument(_ context.Context, doc store.Document, chunks []store.Chunk) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.insertedDoc = doc
	m.insertedChunks = chunks
	return nil
}

func (m *mockStore) SaveExtraction(_ context.Context, chunkID string, ex store.Extraction) error {
	m.extractions[chunkID] = ex
	return nil
}

// fakeProvider embeds deterministically and answers GenerateText with a
// schema first, then extractions.
type fakeProvider struct {
	name      string
	healthy   bool
	embedErr  error
	textErr   error
	textCalls int
}

const testDim = 4

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) MaxBatchSize() int            { return 0 }
func (f *fakeProvider) Healthy(context.Context) bool { return f.healthy }

func (f *fakeProvider) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3, float32(i)}
	}
	return out, nil
}

func (f *fakeProvider) GenerateText(context.Context, string) (string, error) {
	f.textCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	if f.textCalls == 1 {
		return `{"entity_types":["Concept"],"relationship_types":["RELATED_TO"]}`, nil
	}
	return `{"entities":[{"label":"Concept","name":"Gravity"}],"relationships":[{"source":"Gravity","target":"Mass","type":"RELATED_TO"}]}`, nil
}

func newTestOrchestrator(t *testing.T, p *fakeProvider, st Persister, cfg Config) *Orchestrator {
	t.Helper()

	splitter, err := chunk.NewSplitter(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	registry := provider.NewRegistry(p.name)
	registry.Register(p)
	gateway := embed.New(registry, embed.Config{
		Dimensions:      testDim,
		OfflineFallback: true,
		Retry:           embed.RetryConfig{MaxRetries: 0, InitialInterval: 1, MaxInterval: 1},
	}, log.NewNop())

	o, err := New(splitter, gateway, st, registry, cfg, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestIngestNoContent(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	o := newTestOrchestrator(t, &fakeProvider{name: "ollama", healthy: true}, st, Config{})

	for _, content := range []string{"", "   \n\n  "} {
		_, err := o.Ingest(context.Background(), content, "empty.txt", "")
		if !errors.Is(err, ErrNoContent) {
			t.Errorf("Ingest(%q): want ErrNoContent, got %v", content, err)
		}
	}
	if st.insertedDoc.ID != uuid.Nil {
		t.Error("nothing should be persisted for empty content")
	}
}

func TestIngestHappyPath(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	p := &fakeProvider{name: "ollama", healthy: true}
	o := newTestOrchestrator(t, p, st, Config{SampleMaxChars: 4000})

	content := strings.Repeat("gravity acts on mass. ", 10)
	res, err := o.Ingest(context.Background(), content, "physics.txt", "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.DocumentID == uuid.Nil {
		t.Error("DocumentID must be assigned")
	}
	if res.Degraded {
		t.Errorf("unexpected degradation: %s", res.DegradedReason)
	}
	if res.ChunkCount != len(st.insertedChunks) {
		t.Errorf("ChunkCount = %d, stored %d", res.ChunkCount, len(st.insertedChunks))
	}
	if st.insertedDoc.ID != res.DocumentID {
		t.Error("stored document id differs from result")
	}

	for i, c := range st.insertedChunks {
		wantID := fmt.Sprintf("%s-chunk-%d", res.DocumentID, i)
		if c.ID != wantID {
			t.Errorf("chunk %d id = %s, want %s", i, c.ID, wantID)
		}
		if c.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, c.Ordinal)
		}
		if len(c.Embedding) != testDim {
			t.Errorf("chunk %d embedding dimension = %d, want %d", i, len(c.Embedding), testDim)
		}
		if c.SourceFile != "physics.txt" {
			t.Errorf("chunk %d source = %s", i, c.SourceFile)
		}
	}

	if res.Schema == nil {
		t.Fatal("extraction ran, Schema should be set")
	}
	if res.Schema.EntityTypes[0] != "Concept" {
		t.Errorf("schema = %+v, want inferred Concept", res.Schema)
	}
	if len(st.extractions) != res.ChunkCount {
		t.Errorf("got %d extractions, want one per chunk (%d)", len(st.extractions), res.ChunkCount)
	}
}

func TestIngestDegradedStoreStillReturnsID(t *testing.T) {
	t.Parallel()

	st := newMockStore(false)
	o := newTestOrchestrator(t, &fakeProvider{name: "ollama", healthy: true}, st, Config{})

	res, err := o.Ingest(context.Background(), "some document content here", "doc.txt", "")
	if err != nil {
		t.Fatalf("degraded store must not fail ingestion: %v", err)
	}
	if res.DocumentID == uuid.Nil {
		t.Error("DocumentID must be assigned even without persistence")
	}
	if !res.Degraded {
		t.Error("result must be marked degraded")
	}
}

func TestIngestZeroVectorFallback(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	p := &fakeProvider{name: "ollama", healthy: false, embedErr: provider.ErrUnavailable}
	o := newTestOrchestrator(t, p, st, Config{})

	res, err := o.Ingest(context.Background(), "content that should still be stored", "doc.txt", "")
	if err != nil {
		t.Fatalf("offline default provider must degrade, not fail: %v", err)
	}
	if !res.Degraded {
		t.Error("result must be marked degraded")
	}
	if res.Schema != nil {
		t.Error("unhealthy provider must skip extraction")
	}
	for i, c := range st.insertedChunks {
		for _, x := range c.Embedding {
			if x != 0 {
				t.Errorf("chunk %d embedding should be all zeros, got %v", i, c.Embedding)
				break
			}
		}
	}
}

func TestIngestRemoteEmbedFailureStoresZeroVectors(t *testing.T) {
	t.Parallel()

	// The gateway only degrades the default provider; a failing remote
	// provider must still be absorbed here with zero vectors.
	st := newMockStore(true)
	remote := &fakeProvider{name: "openai", healthy: true, embedErr: errors.New("boom")}
	registry := provider.NewRegistry("ollama")
	registry.Register(&fakeProvider{name: "ollama", healthy: true})
	registry.Register(remote)
	gateway := embed.New(registry, embed.Config{
		Dimensions: testDim,
		Retry:      embed.RetryConfig{MaxRetries: 0, InitialInterval: 1, MaxInterval: 1},
	}, log.NewNop())

	splitter, err := chunk.NewSplitter(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	o, err := New(splitter, gateway, st, registry, Config{}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Ingest(context.Background(), "content that must survive a remote failure", "doc.txt", "openai")
	if err != nil {
		t.Fatalf("embedding failure must degrade, not abort: %v", err)
	}
	if !res.Degraded {
		t.Error("result must be marked degraded")
	}
	if res.DocumentID == uuid.Nil {
		t.Error("DocumentID must be assigned")
	}
	for i, c := range st.insertedChunks {
		if len(c.Embedding) != testDim {
			t.Fatalf("chunk %d embedding dimension = %d, want %d", i, len(c.Embedding), testDim)
		}
		for _, x := range c.Embedding {
			if x != 0 {
				t.Errorf("chunk %d embedding should be all zeros, got %v", i, c.Embedding)
				break
			}
		}
	}
}

func TestIngestCountMismatchIsFatal(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	p := &shortProvider{fakeProvider{name: "ollama", healthy: true}}
	splitter, err := chunk.NewSplitter(20, 5)
	if err != nil {
		t.Fatal(err)
	}
	registry := provider.NewRegistry("ollama")
	registry.Register(p)
	gateway := embed.New(registry, embed.Config{
		Dimensions: testDim,
		Retry:      embed.RetryConfig{MaxRetries: 0, InitialInterval: 1, MaxInterval: 1},
	}, log.NewNop())
	o, err := New(splitter, gateway, st, registry, Config{}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Ingest(context.Background(), "long enough content to become several chunks", "doc.txt", "")
	if !errors.Is(err, embed.ErrCountMismatch) {
		t.Errorf("want ErrCountMismatch, got %v", err)
	}
	if st.insertedDoc.ID != uuid.Nil {
		t.Error("nothing should be persisted after a count mismatch")
	}
}

// shortProvider drops the last vector from every response.
type shortProvider struct{ fakeProvider }

func (s *shortProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.fakeProvider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	return out[:len(out)-1], nil
}

func TestIngestDimensionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	st.insertErr = fmt.Errorf("chunk: %w", store.ErrDimensionMismatch)
	o := newTestOrchestrator(t, &fakeProvider{name: "ollama", healthy: true}, st, Config{})

	_, err := o.Ingest(context.Background(), "content to ingest", "doc.txt", "")
	if !errors.Is(err, store.ErrDimensionMismatch) {
		t.Errorf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestIngestPersistFailureAbsorbed(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	st.insertErr = errors.New("connection reset")
	o := newTestOrchestrator(t, &fakeProvider{name: "ollama", healthy: true}, st, Config{})

	res, err := o.Ingest(context.Background(), "content to ingest", "doc.txt", "")
	if err != nil {
		t.Fatalf("persistence failure must degrade, not fail: %v", err)
	}
	if !res.Degraded {
		t.Error("result must be marked degraded")
	}
}

func TestIngestExtractionSkippedForRemoteProvider(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	p := &fakeProvider{name: "openai", healthy: true}
	o := newTestOrchestrator(t, p, st, Config{})

	res, err := o.Ingest(context.Background(), "content never sent to remote extraction", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Schema != nil {
		t.Error("remote providers must not run extraction")
	}
	if p.textCalls != 0 {
		t.Errorf("remote provider received %d GenerateText calls, want 0", p.textCalls)
	}
}

func TestIngestSchemaFallbackOnMalformedInference(t *testing.T) {
	t.Parallel()

	st := newMockStore(true)
	p := &fakeProvider{name: "ollama", healthy: true, textErr: errors.New("model busy")}
	o := newTestOrchestrator(t, p, st, Config{})

	res, err := o.Ingest(context.Background(), "content to ingest here", "doc.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Schema == nil {
		t.Fatal("fallback schema expected")
	}
	want := FallbackSchema()
	if res.Schema.EntityTypes[0] != want.EntityTypes[0] {
		t.Errorf("schema = %+v, want fallback %+v", res.Schema, want)
	}
}

func TestSamplePrecedence(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("x", 1000)
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{name: "no limits", cfg: Config{}, want: 1000},
		{name: "percent only", cfg: Config{SamplePercent: 10}, want: 100},
		{name: "cap only", cfg: Config{SampleMaxChars: 300}, want: 300},
		{name: "cap overrides percent", cfg: Config{SamplePercent: 10, SampleMaxChars: 300}, want: 300},
		{name: "cap above length", cfg: Config{SamplePercent: 10, SampleMaxChars: 5000}, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newMockStore(true)
			o := newTestOrchestrator(t, &fakeProvider{name: "ollama", healthy: true}, st, tt.cfg)
			if got := len(o.sample(content)); got != tt.want {
				t.Errorf("sample length = %d, want %d", got, tt.want)
			}
		})
	}
}
