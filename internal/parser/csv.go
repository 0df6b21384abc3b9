package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// csvRowsPerSection bounds the rows rendered into one section.
const csvRowsPerSection = 20

// CSVParser renders rows as "header: value" lines, grouped into sections.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	tree := &doctree.DocTree{Title: titleFromFilename(filename)}
	if len(records) < 2 {
		return tree, nil
	}

	headers, rows := records[0], records[1:]
	for start := 0; start < len(rows); start += csvRowsPerSection {
		end := min(start+csvRowsPerSection, len(rows))
		var sb strings.Builder
		for _, row := range rows[start:end] {
			cells := make([]string, len(row))
			for j, cell := range row {
				if j < len(headers) && headers[j] != "" {
					cells[j] = headers[j] + ": " + cell
				} else {
					cells[j] = cell
				}
			}
			sb.WriteString(strings.Join(cells, ", "))
			sb.WriteByte('\n')
		}
		// Row numbers are 1-based and count the header line.
		tree.Children = append(tree.Children, &doctree.DocNode{
			Title: fmt.Sprintf("Rows %d-%d", start+2, end+1),
			Text:  strings.TrimSpace(sb.String()),
			Page:  start + 2,
		})
	}
	return tree, nil
}
