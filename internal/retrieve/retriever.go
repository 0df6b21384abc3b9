// Package retrieve finds the child chunks nearest to a query.
package retrieve

import (
	"context"
	"io"
	"log/slog"
	"math"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/embedding"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
)

type Retriever struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	logger   *slog.Logger
}

func NewRetriever(e embedding.Embedder, idx vectorindex.Index, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retriever{embedder: e, index: idx, logger: logger}
}

// StageError names the step of retrieval that failed.
type StageError struct {
	Stage string // "embed", "count" or "query"
	Err   error
}

func (e *StageError) Error() string { return e.Stage + " query: " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// RetrieveChildren returns up to topK children nearest to query, best first.
// An empty index returns no hits without querying it.
func (r *Retriever) RetrieveChildren(ctx context.Context, query string, topK int) ([]doctree.ChildHit, error) {
	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, &StageError{Stage: "embed", Err: err}
	}

	total, err := r.index.Count(ctx)
	if err != nil {
		return nil, &StageError{Stage: "count", Err: err}
	}
	k := min(topK, total)
	if k <= 0 {
		r.logger.Debug("no children to search", "stored", total)
		return []doctree.ChildHit{}, nil
	}

	matches, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, &StageError{Stage: "query", Err: err}
	}

	hits := make([]doctree.ChildHit, 0, len(matches))
	for _, m := range matches {
		text := m.Text
		if text == "" {
			text = m.Metadata.Text
		}
		hits = append(hits, doctree.ChildHit{
			ID:       m.ID,
			Text:     text,
			Score:    Score(m.Distance),
			Metadata: m.Metadata,
		})
	}
	return hits, nil
}

// Score maps a distance to (0, 1] as 1/(1+d), rounded to four decimals.
// A nil distance is a perfect match. Negative distances count as zero.
func Score(distance *float64) float64 {
	if distance == nil {
		return 1.0
	}
	d := max(*distance, 0)
	return math.Round(1/(1+d)*10000) / 10000
}
