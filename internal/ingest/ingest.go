// Package ingest drives the document pipeline: chunk, embed, persist, and
// optionally extract entities and relationships into the knowledge tables.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/localrag/localrag/internal/chunk"
	"github.com/localrag/localrag/internal/config"
	"github.com/localrag/localrag/internal/embed"
	"github.com/localrag/localrag/internal/log"
	"github.com/localrag/localrag/internal/provider"
	"github.com/localrag/localrag/internal/store"
)

// ErrNoContent means chunking produced nothing to ingest. It is the only
// condition that aborts the pipeline outright; everything downstream
// degrades instead.
var ErrNoContent = errors.New("no content to ingest")

// Config holds the knobs for the schema-inference sample.
type Config struct {
	// SamplePercent is the share of the document handed to schema
	// inference. Zero disables percentage sampling.
	SamplePercent int
	// SampleMaxChars caps the sample length in runes. When set it wins
	// over SamplePercent outright.
	SampleMaxChars int
}

// Persister is the slice of the chunk store ingestion writes through.
// Satisfied by *store.Store.
type Persister interface {
	Available() bool
	EnsureIndex(ctx context.Context) error
	InsertDocument(ctx context.Context, doc store.Document, chunks []store.Chunk) error
	SaveExtraction(ctx context.Context, chunkID string, ex store.Extraction) error
}

// Result reports what one ingestion actually did. DocumentID is always
// assigned, even when nothing could be persisted.
type Result struct {
	DocumentID     uuid.UUID
	Filename       string
	ChunkCount     int
	Degraded       bool
	DegradedReason string
	// Schema is the inferred graph schema, nil when the extraction phase
	// was skipped.
	Schema *Schema
}

// Orchestrator owns the ingestion pipeline. Stateless between calls; safe
// for concurrent use.
type Orchestrator struct {
	splitter  *chunk.Splitter
	gateway   *embed.Gateway
	store     Persister
	registry  *provider.Registry
	extractor *extractor
	cfg       Config
	logger    log.Logger
}

// New builds an Orchestrator. All dependencies are required except logger.
func New(splitter *chunk.Splitter, gateway *embed.Gateway, st Persister,
	registry *provider.Registry, cfg Config, logger log.Logger) (*Orchestrator, error) {
	if splitter == nil || gateway == nil || st == nil || registry == nil {
		return nil, fmt.Errorf("splitter, gateway, store and registry are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	ex, err := newExtractor(logger)
	if err != nil {
		return nil, fmt.Errorf("building extractor: %w", err)
	}
	return &Orchestrator{
		splitter:  splitter,
		gateway:   gateway,
		store:     st,
		registry:  registry,
		extractor: ex,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Ingest runs the full pipeline for one document. providerName selects the
// embedding provider; empty means the configured default.
//
// Failures after chunking do not abort: embedding failures persist zero
// vectors of the configured dimension, persistence failures (other than a
// dimension mismatch, which is always fatal) are recorded on the Result,
// and the extraction phase is best-effort.
func (o *Orchestrator) Ingest(ctx context.Context, content, filename, providerName string) (Result, error) {
	pieces := o.splitter.Split(content)
	if len(pieces) == 0 {
		return Result{}, fmt.Errorf("%s: %w", filename, ErrNoContent)
	}

	if err := o.store.EnsureIndex(ctx); err != nil {
		if errors.Is(err, store.ErrDimensionMismatch) {
			return Result{}, fmt.Errorf("index check: %w", err)
		}
		o.logger.Warn("index setup failed, continuing", "error", err)
	}

	docID := uuid.New()
	res := Result{DocumentID: docID, Filename: filename, ChunkCount: len(pieces)}

	vectors, degraded, err := o.gateway.Embed(ctx, pieces, providerName)
	if err != nil {
		// Count and dimension violations mean the provider response is
		// untrustworthy; anything else falls back to zero vectors so the
		// document text still gets persisted.
		if errors.Is(err, embed.ErrCountMismatch) || errors.Is(err, embed.ErrInconsistentDimensions) {
			return Result{}, fmt.Errorf("embedding %s: %w", filename, err)
		}
		o.logger.Warn("embedding failed, storing zero vectors",
			"filename", filename, "error", err)
		vectors = embed.ZeroVectors(len(pieces), o.gateway.Dimensions())
		degraded = true
	}
	if degraded {
		res.Degraded = true
		res.DegradedReason = "embedding failed; stored zero vectors"
	}

	doc := store.Document{ID: docID, Filename: filename}
	chunks := make([]store.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = store.Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, i),
			DocumentID: docID,
			Ordinal:    i,
			Text:       text,
			Embedding:  vectors[i],
			SourceFile: filename,
		}
	}

	if err := o.store.InsertDocument(ctx, doc, chunks); err != nil {
		if errors.Is(err, store.ErrDimensionMismatch) {
			return Result{}, fmt.Errorf("persisting %s: %w", filename, err)
		}
		o.logger.Error("persisting document failed", "document_id", docID, "error", err)
		res.Degraded = true
		res.DegradedReason = "vector store write failed; document not persisted"
	} else if !o.store.Available() {
		res.Degraded = true
		res.DegradedReason = "vector store unavailable; document not persisted"
	}

	o.runExtraction(ctx, providerName, content, chunks, &res)

	o.logger.Info("document ingested",
		"document_id", docID, "filename", filename,
		"chunks", res.ChunkCount, "degraded", res.Degraded)
	return res, nil
}

// runExtraction performs schema inference and per-chunk entity extraction.
// It runs only when the effective provider is the local one and answers its
// health check; remote providers never see document content here.
func (o *Orchestrator) runExtraction(ctx context.Context, providerName, content string, chunks []store.Chunk, res *Result) {
	p, err := o.registry.Get(providerName)
	if err != nil {
		return
	}
	if p.Name() != config.ProviderOllama || !p.Healthy(ctx) {
		o.logger.Debug("skipping knowledge extraction",
			"provider", p.Name(), "reason", "provider not local or unhealthy")
		return
	}

	schema := o.extractor.inferSchema(ctx, p, o.sample(content))
	res.Schema = &schema

	for _, c := range chunks {
		ex, ok := o.extractor.extract(ctx, p, schema, c.Text)
		if !ok {
			continue
		}
		if err := o.store.SaveExtraction(ctx, c.ID, ex); err != nil {
			o.logger.Warn("saving extraction failed", "chunk_id", c.ID, "error", err)
		}
	}
}

// sample returns the slice of content handed to schema inference. An
// absolute cap, when configured, wins over the percentage.
func (o *Orchestrator) sample(content string) string {
	r := []rune(content)
	n := len(r)
	switch {
	case o.cfg.SampleMaxChars > 0:
		n = min(n, o.cfg.SampleMaxChars)
	case o.cfg.SamplePercent > 0:
		n = len(r) * o.cfg.SamplePercent / 100
	}
	if n <= 0 || n > len(r) {
		n = len(r)
	}
	return string(r[:n])
}
