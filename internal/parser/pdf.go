package parser

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser extracts one section per page with ledongthuc/pdf. With
// FallbackPdftotext set, poppler's pdftotext is tried when that fails.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	f, size, cleanup, err := spool(r, "parentdoc-*.pdf")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pages, err := pdfPages(f, size)
	f.Close()
	if err != nil && p.FallbackPdftotext {
		pages, err = pdftotextPages(f.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	tree := &doctree.DocTree{Title: titleFromFilename(filename)}
	for i, page := range pages {
		if page = strings.TrimSpace(page); page == "" {
			continue
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			Title: fmt.Sprintf("Page %d", i+1),
			Text:  page,
			Page:  i + 1,
		})
	}
	return tree, nil
}

func pdfPages(r io.ReaderAt, size int64) ([]string, error) {
	reader, err := pdflib.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	pages := make([]string, reader.NumPage())
	for i := range pages {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		// Unreadable pages stay empty rather than failing the document.
		if text, err := page.GetPlainText(nil); err == nil {
			pages[i] = text
		}
	}
	return pages, nil
}

func pdftotextPages(path string) ([]string, error) {
	out, err := exec.Command("pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return strings.Split(string(out), "\f"), nil
}
