package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser builds sections from paragraphs styled "Heading N" or "Title".
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	f, size, cleanup, err := spool(r, "parentdoc-*.docx")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	doc, err := docx.Parse(f, size)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	title := titleFromFilename(filename)
	o := newOutline(title)
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := paragraphText(para)
		if text == "" {
			continue
		}
		if level := styleHeadingLevel(para); level > 0 {
			o.heading(level, text)
		} else {
			o.text(text)
		}
	}
	return o.tree(title), nil
}

// styleHeadingLevel accepts "Heading2", "heading 2" and "Title" (level 1).
func styleHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	rest, ok := strings.CutPrefix(style, "heading")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > 9 {
		return 0
	}
	return n
}

func paragraphText(para *docx.Paragraph) string {
	var sb strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				sb.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
