// Package llm provides the text-generation capability used to answer queries.
package llm

import (
	"context"
	"fmt"
)

// Generator produces text from a system instruction and a user prompt.
// Implementations return a labelled fallback string instead of an error when
// no credential is configured.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Meter is implemented by generators that track call latency.
type Meter interface {
	Model() string
	Stats() *Stats
}

// FallbackAnswer is returned by a generator whose credential is missing.
func FallbackAnswer(envVar string) string {
	return fmt.Sprintf("[Mock answer] %s not configured. Set it in .env to get real LLM responses.", envVar)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
