// Package doctree holds the records that flow between parsing, segmentation,
// indexing and retrieval.
package doctree

import "strings"

// DocTree is the root of a parsed upload.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page/line (0 if N/A)
	Children []*DocNode // Subsections
}

// PlainText flattens the tree depth-first. Section titles are kept on their
// own line ahead of the section text; blocks are separated by a blank line.
func (t *DocTree) PlainText() string {
	var sb strings.Builder
	var walk func(nodes []*DocNode)
	walk = func(nodes []*DocNode) {
		for _, n := range nodes {
			for _, s := range []string{n.Title, n.Text} {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(s)
			}
			walk(n.Children)
		}
	}
	walk(t.Children)
	return sb.String()
}

// Document is the ingestion input. It is not retained after segmentation.
type Document struct {
	DocID string `json:"doc_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ParentSection is a large, contiguous, non-overlapping window of a document.
type ParentSection struct {
	ParentID    string `json:"parent_id"`
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
	ParentIndex int    `json:"parent_index"`
	Text        string `json:"text"`
}

// ChildMetadata travels with every stored child. ParentText is a full copy of
// the owning parent's text.
type ChildMetadata struct {
	ParentID    string `json:"parent_id"`
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
	ParentIndex int    `json:"parent_index"`
	ChildIndex  int    `json:"child_index"`
	ParentText  string `json:"parent_text"`

	// Text duplicates the child's own text for indexes that cannot return it.
	Text string `json:"text,omitempty"`
}

// ChildChunk is a small, possibly overlapping window of a parent.
type ChildChunk struct {
	Text     string        `json:"text"`
	Metadata ChildMetadata `json:"metadata"`
}

// ChildHit is a stored child matched at query time.
type ChildHit struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChildMetadata `json:"metadata"`
}

// ParentContext is a parent selected for the generation context.
type ParentContext struct {
	ParentID string  `json:"parent_id"`
	DocID    string  `json:"doc_id"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}
