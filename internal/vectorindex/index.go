// Package vectorindex defines the vector index capability. Every backend
// reports cosine distance (1 - cosine similarity), so 0 is an exact match.
package vectorindex

import (
	"context"
	"errors"
	"math"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// DefaultCollection names the table or collection children are stored in.
const DefaultCollection = "parent_child_chunks"

// ErrDimensionMismatch is returned when a vector does not match the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one child to insert.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata doctree.ChildMetadata
}

// Match is one nearest-neighbour result. Distance is nil when the backend
// did not report one.
type Match struct {
	ID       string
	Text     string
	Metadata doctree.ChildMetadata
	Distance *float64
}

// Index stores child vectors and answers nearest-neighbour queries.
type Index interface {
	// Insert stores all records in one call.
	Insert(ctx context.Context, records []Record) error
	// Query returns up to k matches, best first.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// DeleteDocument removes every child of docID and reports how many.
	DeleteDocument(ctx context.Context, docID string) (int, error)
	Close() error
}

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Float returns a pointer to d, for building Match values.
func Float(d float64) *float64 { return &d }
