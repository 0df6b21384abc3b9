package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/parser"
	"github.com/spf13/cobra"
)

var (
	flagTitle string
	flagDocID string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Parse files and index them synchronously",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&flagTitle, "title", "", "document title (single file only; default file name)")
	ingestCmd.Flags().StringVar(&flagDocID, "doc-id", "", "document id (single file only; default derived from content)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) > 1 && (flagTitle != "" || flagDocID != "") {
		return fmt.Errorf("--title and --doc-id apply to a single file")
	}
	ctx := cmd.Context()
	a, _, err := openApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	docs := make([]doctree.Document, 0, len(args))
	for _, path := range args {
		doc, err := readDocument(path, a.Config.PDFFallbackPdftotext)
		if err != nil {
			return err
		}
		if flagTitle != "" {
			doc.Title = flagTitle
		}
		doc.DocID = flagDocID
		docs = append(docs, doc)
	}

	res, err := a.Service.IngestDocuments(ctx, docs)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, id := range res.DocIDs {
		fmt.Fprintf(out, "%s\t%s\n", id, args[i])
	}
	fmt.Fprintf(out, "parents created: %d, children created: %d\n", res.ParentsCreated, res.ChildrenCreated)
	return nil
}

// readDocument parses one file into a document titled after the tree.
func readDocument(path string, pdfFallback bool) (doctree.Document, error) {
	p, err := parser.ForFile(path)
	if err != nil {
		return doctree.Document{}, err
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = pdfFallback
	}
	f, err := os.Open(path)
	if err != nil {
		return doctree.Document{}, err
	}
	defer f.Close()

	tree, err := p.Parse(f, filepath.Base(path))
	if err != nil {
		return doctree.Document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doctree.Document{Title: tree.Title, Text: tree.PlainText()}, nil
}
