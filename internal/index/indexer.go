// Package index embeds child chunks and stores them in the vector index.
package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/embedding"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
	"github.com/google/uuid"
)

// Indexer writes children to a vector index. It is not idempotent: ingesting
// the same children twice stores them twice under fresh ids.
type Indexer struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	logger   *slog.Logger
}

func NewIndexer(e embedding.Embedder, idx vectorindex.Index, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{embedder: e, index: idx, logger: logger}
}

// EmbedError wraps a failure of the embedding capability.
type EmbedError struct{ Err error }

func (e *EmbedError) Error() string { return "embed children: " + e.Err.Error() }
func (e *EmbedError) Unwrap() error { return e.Err }

// InsertError wraps a failure of the vector index.
type InsertError struct{ Err error }

func (e *InsertError) Error() string { return "insert children: " + e.Err.Error() }
func (e *InsertError) Unwrap() error { return e.Err }

// Ingest embeds all children in one batch and inserts them in one call.
// It returns the number inserted.
func (ix *Indexer) Ingest(ctx context.Context, children []doctree.ChildChunk) (int, error) {
	if len(children) == 0 {
		return 0, nil
	}

	texts := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, &EmbedError{Err: err}
	}
	if len(vecs) != len(children) {
		return 0, &EmbedError{Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(children))}
	}

	records := make([]vectorindex.Record, len(children))
	for i, c := range children {
		md := c.Metadata
		md.Text = c.Text
		records[i] = vectorindex.Record{
			ID:       uuid.NewString(),
			Vector:   vecs[i],
			Text:     c.Text,
			Metadata: md,
		}
	}
	if err := ix.index.Insert(ctx, records); err != nil {
		return 0, &InsertError{Err: err}
	}

	ix.logger.Debug("indexed children", "count", len(records), "model", ix.embedder.Model())
	return len(records), nil
}
