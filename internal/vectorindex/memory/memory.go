// Package memory is an in-process vector index with brute-force cosine search.
// Contents are lost on restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dgallion1/parentdoc/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

// Index keeps records in insertion order.
type Index struct {
	mu      sync.RWMutex
	dim     int
	records []vectorindex.Record
}

// New returns an empty index. dim 0 takes the dimension of the first insert.
func New(dim int) *Index {
	return &Index{dim: dim}
}

func (x *Index) Insert(_ context.Context, records []vectorindex.Record) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dim
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("memory: insert %s: %w (want %d, got %d)", r.ID, vectorindex.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}
	x.dim = dim
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		x.records = append(x.records, r)
	}
	return nil
}

func (x *Index) Query(_ context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dim != 0 && len(vector) != x.dim {
		return nil, fmt.Errorf("memory: query: %w (want %d, got %d)", vectorindex.ErrDimensionMismatch, x.dim, len(vector))
	}

	type scored struct {
		idx  int
		dist float64
	}
	all := make([]scored, len(x.records))
	for i, r := range x.records {
		all[i] = scored{idx: i, dist: vectorindex.CosineDistance(vector, r.Vector)}
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
	out := make([]vectorindex.Match, 0, k)
	for _, s := range all[:k] {
		r := x.records[s.idx]
		out = append(out, vectorindex.Match{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Distance: vectorindex.Float(s.dist),
		})
	}
	return out, nil
}

func (x *Index) Count(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

func (x *Index) DeleteDocument(_ context.Context, docID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	before := len(x.records)
	x.records = slices.DeleteFunc(x.records, func(r vectorindex.Record) bool {
		return r.Metadata.DocID == docID
	})
	return before - len(x.records), nil
}

func (x *Index) Close() error { return nil }
