// Package embedding provides the text-to-vector capability and its HTTP
// adapters.
package embedding

import (
	"context"
	"fmt"
)

// Embedder turns texts into fixed-dimension vectors. The result has the same
// length and order as the input; empty input yields empty output.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
