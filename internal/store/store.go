// Package store persists documents, chunks and extracted knowledge in
// PostgreSQL with pgvector, and answers similarity and substring queries.
//
// When the database is unreachable the adapter runs in degraded mode:
// writes become no-ops, reads return empty results, and Available reports
// false so callers can tell the difference between "no matches" and
// "nothing to match against".
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/localrag/localrag/internal/log"
)

// identRe matches the identifiers we are willing to splice into DDL.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const pingTimeout = 5 * time.Second

// IndexConfig describes the vector index the adapter maintains over chunk
// embeddings. Name and Metric are fixed per deployment; Dimensions must
// match every embedding ever written.
type IndexConfig struct {
	Name       string
	Dimensions int
	Metric     string
}

// Store is the vector store adapter.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	cfg       IndexConfig
	available bool
	logger    log.Logger
}

// New connects to PostgreSQL and returns a Store. Connection failure is not
// an error: the store comes up in degraded mode and the caller decides how
// to proceed.
func New(ctx context.Context, connString string, cfg IndexConfig, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if !identRe.MatchString(cfg.Name) {
		return nil, fmt.Errorf("invalid index name %q", cfg.Name)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid index dimensions %d", cfg.Dimensions)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		logger.Warn("store degraded: cannot parse connection config", "error", err)
		return &Store{cfg: cfg, logger: logger}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		logger.Warn("store degraded: database unreachable", "error", err)
		return &Store{cfg: cfg, logger: logger}, nil
	}

	return &Store{pool: pool, cfg: cfg, available: true, logger: logger}, nil
}

// NewWithPool wraps an existing pool. Used by tests that manage their own
// database lifecycle.
func NewWithPool(pool *pgxpool.Pool, cfg IndexConfig, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, cfg: cfg, available: pool != nil, logger: logger}
}

// Available reports whether the backing database is reachable. False means
// every write is a silent no-op and every read returns empty results.
func (s *Store) Available() bool {
	return s.available
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureIndex records the index metadata and creates the vector index if it
// does not exist yet. Safe to call on every startup. If the recorded
// dimension disagrees with the configured one, ErrDimensionMismatch is
// returned and nothing is changed.
func (s *Store) EnsureIndex(ctx context.Context) error {
	if !s.available {
		s.logger.Warn("skipping vector index setup: store unavailable")
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO vector_index_meta (name, dimension, metric)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		s.cfg.Name, s.cfg.Dimensions, s.cfg.Metric)
	if err != nil {
		return fmt.Errorf("recording index metadata: %w", err)
	}

	var dim int
	var metric string
	err = s.pool.QueryRow(ctx,
		`SELECT dimension, metric FROM vector_index_meta WHERE name = $1`,
		s.cfg.Name).Scan(&dim, &metric)
	if err != nil {
		return fmt.Errorf("reading index metadata: %w", err)
	}
	if dim != s.cfg.Dimensions {
		return fmt.Errorf("index %s has dimension %d, configured %d: %w",
			s.cfg.Name, dim, s.cfg.Dimensions, ErrDimensionMismatch)
	}

	// The embedding column is dimensionless so one schema serves any model;
	// the typmod cast here is what lets the index (and searches that repeat
	// the same cast) apply.
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON chunks
		 USING hnsw ((embedding::vector(%d)) vector_cosine_ops)`,
		s.cfg.Name, s.cfg.Dimensions))
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	s.logger.Debug("vector index ready",
		"name", s.cfg.Name, "dimensions", s.cfg.Dimensions, "metric", metric)
	return nil
}

// Dimension returns the embedding dimension the store enforces. In degraded
// mode it returns ErrUnavailable; with no metadata row yet it returns the
// configured dimension.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	if !s.available {
		return 0, ErrUnavailable
	}
	var dim int
	err := s.pool.QueryRow(ctx,
		`SELECT dimension FROM vector_index_meta WHERE name = $1`,
		s.cfg.Name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.cfg.Dimensions, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index dimension: %w", err)
	}
	return dim, nil
}

// InsertDocument writes one document row and its chunks in a single
// transaction, then links consecutive chunks through next_id so original
// order survives retrieval. Chunk embeddings must all match the configured
// dimension; a mismatch fails the whole insert with ErrDimensionMismatch.
//
// In degraded mode the call is a recorded no-op and returns nil.
func (s *Store) InsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if !s.available {
		s.logger.Warn("discarding document write: store unavailable",
			"document_id", doc.ID, "chunks", len(chunks))
		return nil
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.cfg.Dimensions {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d: %w",
				c.ID, len(c.Embedding), s.cfg.Dimensions, ErrDimensionMismatch)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, filename, filetype) VALUES ($1, $2, $3)`,
		doc.ID, doc.Filename, doc.Filetype)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, document_id, ordinal, text, embedding, source_file)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.DocumentID, c.Ordinal, c.Text,
			pgvector.NewVector(c.Embedding), c.SourceFile)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	// Link chunk i to chunk i+1 in one pass over the ordinals.
	_, err = tx.Exec(ctx,
		`UPDATE chunks c SET next_id = n.id
		 FROM chunks n
		 WHERE c.document_id = $1 AND n.document_id = $1
		   AND n.ordinal = c.ordinal + 1`,
		doc.ID)
	if err != nil {
		return fmt.Errorf("linking chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}

	s.logger.Debug("document stored", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// NearestNeighbors returns up to limit chunks ordered by cosine similarity
// to the query vector, highest first. Degraded mode returns an empty set.
func (s *Store) NearestNeighbors(ctx context.Context, vec []float32, limit int) ([]Source, error) {
	if !s.available {
		return nil, nil
	}
	if len(vec) != s.cfg.Dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d: %w",
			len(vec), s.cfg.Dimensions, ErrDimensionMismatch)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT text, document_id, ordinal, source_file,
		        1 - (embedding::vector(%d) <=> $1) AS similarity
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding::vector(%d) <=> $1
		 LIMIT $2`, s.cfg.Dimensions, s.cfg.Dimensions),
		pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	return scanSources(rows, true)
}

// TextContains returns up to limit chunks whose text contains the given
// substring, case-insensitively, in document and ordinal order. Matches all
// score 1.0 since no distance is defined. Degraded mode returns an empty set.
func (s *Store) TextContains(ctx context.Context, substring string, limit int) ([]Source, error) {
	if !s.available {
		return nil, nil
	}

	// Escape LIKE metacharacters so the substring matches literally.
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(substring)

	rows, err := s.pool.Query(ctx,
		`SELECT text, document_id, ordinal, source_file
		 FROM chunks
		 WHERE text ILIKE '%' || $1 || '%'
		 ORDER BY document_id, ordinal
		 LIMIT $2`,
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer rows.Close()

	return scanSources(rows, false)
}

func scanSources(rows pgx.Rows, withScore bool) ([]Source, error) {
	var out []Source
	for rows.Next() {
		var (
			src     Source
			docID   uuid.UUID
			ordinal int
			file    string
		)
		var err error
		if withScore {
			err = rows.Scan(&src.Text, &docID, &ordinal, &file, &src.Score)
		} else {
			src.Score = 1.0
			err = rows.Scan(&src.Text, &docID, &ordinal, &file)
		}
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		src.Metadata = map[string]string{
			"document_id": docID.String(),
			"ordinal":     fmt.Sprintf("%d", ordinal),
			"source_file": file,
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sources: %w", err)
	}
	return out, nil
}

// SaveExtraction upserts the entities, mentions and relationships extracted
// from one chunk. Idempotent per chunk. Degraded mode is a no-op.
func (s *Store) SaveExtraction(ctx context.Context, chunkID string, ex Extraction) error {
	if !s.available {
		return nil
	}
	if len(ex.Entities) == 0 && len(ex.Relationships) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range ex.Entities {
		batch.Queue(
			`INSERT INTO entities (label, name) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			e.Label, e.Name)
		batch.Queue(
			`INSERT INTO entity_mentions (chunk_id, label, name) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			chunkID, e.Label, e.Name)
	}
	for _, r := range ex.Relationships {
		batch.Queue(
			`INSERT INTO entity_relationships (source_name, target_name, rel_type)
			 VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			r.Source, r.Target, r.Type)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving extraction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing extraction: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and, via cascade, its chunks, mentions
// and links. Unlike ingestion-path writes this is an explicit administrative
// action, so degraded mode is an error rather than a silent no-op.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if !s.available {
		return ErrUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	s.logger.Info("document deleted", "document_id", id, "rows", tag.RowsAffected())
	return nil
}

// Reset drops the vector index and wipes every table the adapter owns.
// Administrative action; degraded mode is an error.
func (s *Store) Reset(ctx context.Context) error {
	if !s.available {
		return ErrUnavailable
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, s.cfg.Name)); err != nil {
		return fmt.Errorf("dropping vector index: %w", err)
	}
	_, err := s.pool.Exec(ctx,
		`TRUNCATE documents, chunks, entities, entity_mentions, entity_relationships CASCADE`)
	if err != nil {
		return fmt.Errorf("truncating tables: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM vector_index_meta WHERE name = $1`, s.cfg.Name); err != nil {
		return fmt.Errorf("clearing index metadata: %w", err)
	}

	s.logger.Info("store reset", "index", s.cfg.Name)
	return nil
}

// Documents lists ingested documents, newest first.
func (s *Store) Documents(ctx context.Context, limit int) ([]Document, error) {
	if !s.available {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, filetype, ingested_at
		 FROM documents ORDER BY ingested_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.Filetype, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}
