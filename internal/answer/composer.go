// Package answer builds the generation prompt from selected parents.
package answer

import (
	"context"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/llm"
)

// NoContextAnswer is returned when no parent was selected.
const NoContextAnswer = "No relevant parent sections were retrieved."

// SystemPrompt restricts the generator to the supplied sections.
const SystemPrompt = "You are a helpful assistant answering questions based on provided documents. " +
	"Use ONLY the given parent sections as context. If the answer is not present, say so."

type Composer struct {
	gen llm.Generator
}

func NewComposer(gen llm.Generator) *Composer {
	return &Composer{gen: gen}
}

// ComposeAnswer asks the generator to answer query from parents and returns
// its output unchanged.
func (c *Composer) ComposeAnswer(ctx context.Context, query string, parents []doctree.ParentContext) (string, error) {
	if len(parents) == 0 {
		return NoContextAnswer, nil
	}
	return c.gen.Generate(ctx, SystemPrompt, BuildPrompt(query, parents))
}

// BuildPrompt renders the parents, each under its bracketed title when it has
// one, followed by the question and an answer cue.
func BuildPrompt(query string, parents []doctree.ParentContext) string {
	blocks := make([]string, len(parents))
	for i, p := range parents {
		if p.Title != "" {
			blocks[i] = "[" + p.Title + "]\n" + p.Text
		} else {
			blocks[i] = p.Text
		}
	}
	return "Context:\n" + strings.Join(blocks, "\n\n") + "\n\nQuestion: " + query + "\n\nAnswer:"
}
