package parser

import (
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// outline builds a section tree from a stream of headings and text blocks.
// A heading nests under the nearest open heading of a lower level.
type outline struct {
	root  *doctree.DocNode
	stack []openSection
	buf   strings.Builder
}

type openSection struct {
	node  *doctree.DocNode
	level int
}

func newOutline(title string) *outline {
	root := &doctree.DocNode{Title: title}
	return &outline{root: root, stack: []openSection{{node: root}}}
}

func (o *outline) heading(level int, title string) {
	o.flush()
	n := &doctree.DocNode{Title: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, n)
	o.stack = append(o.stack, openSection{node: n, level: level})
}

// text appends a block to the innermost open section.
func (o *outline) text(block string) {
	if block = strings.TrimSpace(block); block == "" {
		return
	}
	if o.buf.Len() > 0 {
		o.buf.WriteString("\n\n")
	}
	o.buf.WriteString(block)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.buf.String())
	o.buf.Reset()
	if t == "" {
		return
	}
	top := o.stack[len(o.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// tree finishes the outline. Text that appeared before the first heading
// becomes a leading untitled section.
func (o *outline) tree(title string) *doctree.DocTree {
	o.flush()
	t := &doctree.DocTree{Title: title, Children: o.root.Children}
	if o.root.Text != "" {
		t.Children = append([]*doctree.DocNode{{Text: o.root.Text}}, t.Children...)
	}
	return t
}
