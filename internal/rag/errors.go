package rag

import "errors"

// Errors returned by Service. Wrapped causes are still reachable with
// errors.As.
var (
	// ErrInvalidInput indicates a malformed request, such as an empty query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedding indicates the embedding capability failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrIndex indicates the vector index failed.
	ErrIndex = errors.New("vector index failed")

	// ErrGeneration indicates the text generator failed.
	ErrGeneration = errors.New("generation failed")

	// ErrParentStore indicates the parent store rejected a write.
	ErrParentStore = errors.New("parent store failed")
)
