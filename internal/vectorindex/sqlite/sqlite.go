// Package sqlite persists child vectors in a single SQLite file and answers
// queries with a brute-force cosine scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"slices"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/vectorindex"

	_ "modernc.org/sqlite"
)

var _ vectorindex.Index = (*Index)(nil)

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Index stores children in one table.
type Index struct {
	db     *sql.DB
	table  string
	dim    int
	logger *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// WithTable overrides the table name.
func WithTable(name string) Option {
	return func(x *Index) { x.table = name }
}

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string, dim int, opts ...Option) (*Index, error) {
	x := &Index{table: vectorindex.DefaultCollection, dim: dim, logger: nopLogger}
	for _, o := range opts {
		o(x)
	}
	if !validTable.MatchString(x.table) {
		return nil, fmt.Errorf("sqlite: invalid table name %q", x.table)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; WAL lets readers continue.
	db.SetMaxOpenConns(1)
	x.db = db

	if err := x.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	x.logger.Info("sqlite vector index ready", "path", path, "table", x.table, "dim", dim)
	return x, nil
}

func (x *Index) init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			doc_id    TEXT NOT NULL,
			text      TEXT NOT NULL,
			metadata  TEXT NOT NULL,
			embedding BLOB NOT NULL
		)`, x.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_doc ON %s(doc_id)`, x.table, x.table),
	}
	for _, s := range stmts {
		if _, err := x.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func (x *Index) Insert(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if x.dim > 0 && len(r.Vector) != x.dim {
			return fmt.Errorf("sqlite: insert %s: %w (want %d, got %d)", r.ID, vectorindex.ErrDimensionMismatch, x.dim, len(r.Vector))
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, doc_id, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)`, x.table))
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Metadata.DocID, r.Text, string(meta), encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	x.logger.Debug("inserted children", "count", len(records))
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if x.dim > 0 && len(vector) != x.dim {
		return nil, fmt.Errorf("sqlite: query: %w (want %d, got %d)", vectorindex.ErrDimensionMismatch, x.dim, len(vector))
	}

	rows, err := x.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, text, metadata, embedding FROM %s ORDER BY rowid`, x.table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		m    vectorindex.Match
		dist float64
	}
	var all []scored
	for rows.Next() {
		var (
			id, text, meta string
			blob           []byte
		)
		if err := rows.Scan(&id, &text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		var md doctree.ChildMetadata
		if err := json.Unmarshal([]byte(meta), &md); err != nil {
			x.logger.Warn("skipping row with bad metadata", "id", id, "error", err)
			continue
		}
		all = append(all, scored{
			m:    vectorindex.Match{ID: id, Text: text, Metadata: md},
			dist: vectorindex.CosineDistance(vector, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	k = min(k, len(all))
	out := make([]vectorindex.Match, k)
	for i := range k {
		out[i] = all[i].m
		out[i].Distance = vectorindex.Float(all[i].dist)
	}
	return out, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, x.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (x *Index) DeleteDocument(ctx context.Context, docID string) (int, error) {
	res, err := x.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = ?`, x.table), docID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

func (x *Index) Close() error { return x.db.Close() }

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
