package parser

import (
	"bytes"
	"io"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser builds sections from ATX and setext headings using goldmark.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	title := titleFromFilename(filename)
	o := newOutline(title)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			o.heading(h.Level, string(blockText(h, src)))
			continue
		}
		o.text(string(blockText(n, src)))
	}
	return o.tree(title), nil
}

// blockText returns the text of n. Leaf blocks such as code contribute their
// raw lines; everything else is the text of its descendants, with nested
// blocks on separate lines.
func blockText(n ast.Node, src []byte) []byte {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := range lines.Len() {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		return bytes.TrimSpace(buf.Bytes())
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		if c.Type() == ast.TypeBlock && buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(blockText(c, src))
	}
	return bytes.TrimSpace(buf.Bytes())
}
