package rag

import (
	"fmt"
	"hash/fnv"
)

// DeriveDocID returns a stable id for a document submitted without one:
// "doc-" and the 32-bit FNV-1a hash of title, a NUL byte and text.
// Distinct documents can collide; callers that care should pass an id.
func DeriveDocID(title, text string) string {
	h := fnv.New32a()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("doc-%08x", h.Sum32())
}
