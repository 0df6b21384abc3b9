// Package chunker implements parent/child segmentation: large non-overlapping
// parent sections for generation context and small overlapping child windows
// for similarity search. Lengths are counted in runes.
package chunker

import (
	"fmt"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// Config controls segmentation.
type Config struct {
	ParentMaxChars    int // Parent window size.
	ChildMaxChars     int // Child window size.
	ChildOverlapChars int // Characters shared by consecutive child windows.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ParentMaxChars:    2000,
		ChildMaxChars:     400,
		ChildOverlapChars: 100,
	}
}

// Validate rejects settings that would make child windows stop advancing.
func (c Config) Validate() error {
	if c.ParentMaxChars <= 0 {
		return fmt.Errorf("parent max chars must be positive, got %d", c.ParentMaxChars)
	}
	if c.ChildMaxChars <= 0 {
		return fmt.Errorf("child max chars must be positive, got %d", c.ChildMaxChars)
	}
	if c.ChildOverlapChars < 0 {
		return fmt.Errorf("child overlap chars must not be negative, got %d", c.ChildOverlapChars)
	}
	if c.ChildOverlapChars >= c.ChildMaxChars {
		return fmt.Errorf("child overlap chars (%d) must be less than child max chars (%d)", c.ChildOverlapChars, c.ChildMaxChars)
	}
	return nil
}

// Segment splits one document into its parents and their children.
func (c Config) Segment(doc doctree.Document) ([]doctree.ParentSection, []doctree.ChildChunk) {
	parents := SplitIntoParents(doc.DocID, doc.Title, doc.Text, c.ParentMaxChars)
	return parents, SplitIntoChildren(parents, c.ChildMaxChars, c.ChildOverlapChars)
}

// ParentID formats the identifier of the parent at index within docID.
func ParentID(docID string, index int) string {
	return fmt.Sprintf("%s::p%d", docID, index)
}

// SplitIntoParents partitions the trimmed text into consecutive windows of
// parentMaxChars. The final window may be shorter. Each window is trimmed.
func SplitIntoParents(docID, title, text string, parentMaxChars int) []doctree.ParentSection {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var windows []string
	if parentMaxChars <= 0 || len(runes) <= parentMaxChars {
		windows = []string{text}
	} else {
		for start := 0; start < len(runes); start += parentMaxChars {
			end := min(start+parentMaxChars, len(runes))
			if w := strings.TrimSpace(string(runes[start:end])); w != "" {
				windows = append(windows, w)
			}
		}
	}

	parents := make([]doctree.ParentSection, 0, len(windows))
	for i, w := range windows {
		parents = append(parents, doctree.ParentSection{
			ParentID:    ParentID(docID, i),
			DocID:       docID,
			Title:       title,
			ParentIndex: i,
			Text:        w,
		})
	}
	return parents
}

// SplitIntoChildren cuts every parent into windows of childMaxChars that start
// childMaxChars-overlapChars apart. Windows that trim to nothing are dropped
// and do not take a child index.
func SplitIntoChildren(parents []doctree.ParentSection, childMaxChars, overlapChars int) []doctree.ChildChunk {
	var children []doctree.ChildChunk
	for _, p := range parents {
		for i, w := range childWindows(p.Text, childMaxChars, overlapChars) {
			children = append(children, doctree.ChildChunk{
				Text: w,
				Metadata: doctree.ChildMetadata{
					ParentID:    p.ParentID,
					DocID:       p.DocID,
					Title:       p.Title,
					ParentIndex: p.ParentIndex,
					ChildIndex:  i,
					ParentText:  p.Text,
				},
			})
		}
	}
	return children
}

func childWindows(text string, size, overlap int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		if w := strings.TrimSpace(text); w != "" {
			return []string{w}
		}
		return nil
	}

	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if w := strings.TrimSpace(string(runes[start:end])); w != "" {
			out = append(out, w)
		}
		if step <= 0 {
			// Unreachable with a validated Config.
			break
		}
	}
	return out
}
