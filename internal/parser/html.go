package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLParser builds sections from h1-h6 and collects text from paragraph-like
// elements. Page chrome (nav, header, footer) and scripts are skipped.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := titleFromFilename(filename)
	if t := nodeText(findElement(doc, atom.Title)); t != "" {
		title = t
	}
	o := newOutline(title)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.DataAtom); level > 0 {
				o.heading(level, nodeText(n))
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Header, atom.Footer:
				return
			case atom.P, atom.Li, atom.Td, atom.Th, atom.Blockquote, atom.Pre, atom.Dd, atom.Dt, atom.Figcaption:
				o.text(nodeText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if body := findElement(doc, atom.Body); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return o.tree(title), nil
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

// nodeText concatenates the text below n with runs of whitespace collapsed.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
