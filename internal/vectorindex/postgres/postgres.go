// Package postgres stores child vectors in PostgreSQL with the pgvector
// extension and an HNSW cosine index.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/parentdoc/internal/vectorindex"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ vectorindex.Index = (*Index)(nil)

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Index uses a caller-owned connection pool; Close does not close it.
type Index struct {
	pool   *pgxpool.Pool
	table  string
	dim    int
	logger *slog.Logger
}

type Option func(*Index)

func WithLogger(l *slog.Logger) Option { return func(x *Index) { x.logger = l } }

func WithTable(name string) Option { return func(x *Index) { x.table = name } }

// New ensures the extension, table and index exist.
func New(ctx context.Context, pool *pgxpool.Pool, dim int, opts ...Option) (*Index, error) {
	x := &Index{
		pool:   pool,
		table:  vectorindex.DefaultCollection,
		dim:    dim,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(x)
	}
	if !validTable.MatchString(x.table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", x.table)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("postgres: dimension must be positive, got %d", dim)
	}
	if err := x.init(ctx); err != nil {
		return nil, err
	}
	x.logger.Info("pgvector index ready", "table", x.table, "dim", dim)
	return x, nil
}

// Connect opens a pool from dsn and builds an Index on it.
func Connect(ctx context.Context, dsn string, dim int, opts ...Option) (*Index, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	x, err := New(ctx, pool, dim, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return x, pool, nil
}

func (x *Index) init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			doc_id    TEXT NOT NULL,
			text      TEXT NOT NULL,
			metadata  JSONB NOT NULL,
			embedding vector(%d) NOT NULL
		)`, x.table, x.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_idx ON %s (doc_id)`, x.table, x.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, x.table, x.table),
	}
	for _, s := range stmts {
		if _, err := x.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (x *Index) Insert(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	q := fmt.Sprintf(`INSERT INTO %s (id, doc_id, text, metadata, embedding) VALUES ($1, $2, $3, $4, $5::vector)`, x.table)
	for _, r := range records {
		if len(r.Vector) != x.dim {
			return fmt.Errorf("postgres: insert %s: %w (want %d, got %d)", r.ID, vectorindex.ErrDimensionMismatch, x.dim, len(r.Vector))
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata %s: %w", r.ID, err)
		}
		batch.Queue(q, r.ID, r.Metadata.DocID, r.Text, meta, serializeEmbedding(r.Vector))
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("postgres: insert %s: %w", r.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != x.dim {
		return nil, fmt.Errorf("postgres: query: %w (want %d, got %d)", vectorindex.ErrDimensionMismatch, x.dim, len(vector))
	}
	rows, err := x.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, text, metadata, embedding <=> $1::vector AS distance
		 FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, x.table),
		serializeEmbedding(vector), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out []vectorindex.Match
	for rows.Next() {
		var (
			m    vectorindex.Match
			meta []byte
			dist float64
		)
		if err := rows.Scan(&m.ID, &m.Text, &meta, &dist); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			x.logger.Warn("skipping row with bad metadata", "id", m.ID, "error", err)
			continue
		}
		m.Distance = vectorindex.Float(dist)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int64
	if err := x.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, x.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return int(n), nil
}

func (x *Index) DeleteDocument(ctx context.Context, docID string) (int, error) {
	tag, err := x.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, x.table), docID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %s: %w", docID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (x *Index) Close() error { return nil }

// serializeEmbedding renders v in pgvector's text form, e.g. "[0.1,0.2]".
func serializeEmbedding(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

