package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/parser"
	"github.com/dgallion1/parentdoc/internal/rag"
)

// Ingester stores parsed documents. *rag.Service implements it.
type Ingester interface {
	IngestDocuments(ctx context.Context, docs []doctree.Document) (rag.IngestResult, error)
}

// Worker processes a single upload job.
type Worker struct {
	ingester          Ingester
	log               *slog.Logger
	fallbackPdftotext bool
}

func NewWorker(ing Ingester, log *slog.Logger, fallbackPdftotext bool) *Worker {
	return &Worker{ingester: ing, log: log, fallbackPdftotext: fallbackPdftotext}
}

// Process runs the upload pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.Fail("parsing", err.Error())
		return
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = w.fallbackPdftotext
	}

	tree, err := p.Parse(bytes.NewReader(job.takeFileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.Fail("parsing", fmt.Sprintf("parse: %s", err))
		return
	}
	if job.Title != "" {
		tree.Title = job.Title
	}

	// Phase 2: Flatten into one document. Segmentation itself happens
	// inside the ingester.
	job.SetStatus(StatusSegmenting, "segmenting")
	text := tree.PlainText()
	job.SetParsed(ContentHashHex([]byte(text)), utf8.RuneCountInString(text))
	if strings.TrimSpace(text) == "" {
		log.Warn("no text extracted")
		job.Fail("segmenting", "no extractable content")
		return
	}

	// Phase 3: Index
	job.SetStatus(StatusIndexing, "indexing")
	doc := doctree.Document{DocID: job.DocID, Title: tree.Title, Text: text}
	res, err := w.ingester.IngestDocuments(ctx, []doctree.Document{doc})
	if err != nil {
		log.Error("ingest failed", "error", err)
		job.Fail("indexing", fmt.Sprintf("ingest: %s", err))
		return
	}

	docID := doc.DocID
	if len(res.DocIDs) > 0 {
		docID = res.DocIDs[0]
	}
	job.Complete(docID, res.ParentsCreated, res.ChildrenCreated)
	log.Info("upload ingested", "doc_id", docID, "parents", res.ParentsCreated, "children", res.ChildrenCreated)
}
