package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, docID string, v ...float32) vectorindex.Record {
	return vectorindex.Record{ID: id, Vector: v, Text: "text " + id, Metadata: doctree.ChildMetadata{DocID: docID, ParentID: docID + "::p0"}}
}

func TestIndex_QueryRanksByCosineDistance(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	require.NoError(t, idx.Insert(ctx, []vectorindex.Record{
		rec("far", "d", 0, 1),
		rec("near", "d", 1, 0.1),
		rec("exact", "d", 1, 0),
	}))

	matches, err := idx.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "near", matches[1].ID)
	require.NotNil(t, matches[0].Distance)
	assert.InDelta(t, 0, *matches[0].Distance, 1e-9)
	assert.Equal(t, "text exact", matches[0].Text)
	assert.Equal(t, "d::p0", matches[0].Metadata.ParentID)
}

func TestIndex_CountAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := New(0)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, idx.Insert(ctx, []vectorindex.Record{rec("a", "d1", 1, 0), rec("b", "d2", 0, 1), rec("c", "d1", 1, 1)}))
	n, _ = idx.Count(ctx)
	assert.Equal(t, 3, n)

	deleted, err := idx.DeleteDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	n, _ = idx.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestIndex_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := New(3)
	err := idx.Insert(ctx, []vectorindex.Record{rec("a", "d", 1, 0)})
	assert.True(t, errors.Is(err, vectorindex.ErrDimensionMismatch))

	_, err = idx.Query(ctx, []float32{1}, 1)
	assert.True(t, errors.Is(err, vectorindex.ErrDimensionMismatch))
}

func TestIndex_KLargerThanStore(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	require.NoError(t, idx.Insert(ctx, []vectorindex.Record{rec("a", "d", 1, 0)}))
	matches, err := idx.Query(ctx, []float32{1, 0}, 30)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, vectorindex.CosineDistance([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 1, vectorindex.CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, vectorindex.CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, vectorindex.CosineDistance([]float32{0, 0}, []float32{1, 0}))
}
