package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable indicates the backing store is unreachable and the
	// adapter is running in degraded mode.
	ErrUnavailable = errors.New("store unavailable")

	// ErrDimensionMismatch indicates an embedding whose length differs
	// from the dimension already present in the store. Fatal, always
	// surfaced — never truncated or padded.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Document is one ingested source file. It owns an ordered sequence of
// chunks linked pairwise to preserve original order.
type Document struct {
	ID         uuid.UUID
	Filename   string
	Filetype   string
	IngestedAt time.Time
}

// Chunk is a bounded, possibly overlapping substring of a document plus its
// embedding vector. Immutable once written.
type Chunk struct {
	ID         string
	DocumentID uuid.UUID
	Ordinal    int
	Text       string
	Embedding  []float32
	SourceFile string
	CreatedAt  time.Time
}

// Source is a read projection of a chunk plus a similarity score, returned
// by retrieval. Never persisted.
type Source struct {
	Text     string
	Score    float64
	Metadata map[string]string
}

// Entity is a named node extracted from a chunk by the knowledge phase.
type Entity struct {
	Label string `json:"label"`
	Name  string `json:"name"`
}

// Relationship connects two extracted entities by name.
type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Extraction is the validated output of the per-chunk knowledge phase.
type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}
