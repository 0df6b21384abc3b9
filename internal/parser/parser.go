// Package parser turns uploaded files into a DocTree. Formats with headings
// (Markdown, HTML, DOCX) keep their section hierarchy; the rest produce flat
// sections.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

// Extensions lists the file extensions ForFile accepts.
var Extensions = []string{".txt", ".md", ".markdown", ".csv", ".html", ".htm", ".pdf", ".docx"}

// ForFile returns the parser for filename's extension.
func ForFile(filename string) (Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupported reports whether ForFile has a parser for filename.
func IsSupported(filename string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(filename)))
}

// Parse picks a parser by extension and runs it.
func Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	p, err := ForFile(filename)
	if err != nil {
		return nil, err
	}
	tree, err := p.Parse(r, filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(filename), err)
	}
	return tree, nil
}

// titleFromFilename drops the directory and extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
