package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/parentdoc/internal/config"
	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/rag"
)

type fakeIngester struct {
	mu    sync.Mutex
	docs  []doctree.Document
	err   error
	block chan struct{}
}

func (f *fakeIngester) IngestDocuments(ctx context.Context, docs []doctree.Document) (rag.IngestResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return rag.IngestResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return rag.IngestResult{}, f.err
	}
	f.docs = append(f.docs, docs...)
	id := docs[0].DocID
	if id == "" {
		id = "derived"
	}
	return rag.IngestResult{ParentsCreated: 1, ChildrenCreated: 2, DocIDs: []string{id}}, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWorker_ProcessMarkdown(t *testing.T) {
	ing := &fakeIngester{}
	w := NewWorker(ing, testLogger(), false)
	job := NewJob("j", "guide.md", "", "", []byte("# Setup\n\nInstall it.\n"))

	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", snap.Status, snap.Progress.Errors)
	}
	if snap.DocID != "derived" || snap.Progress.ChildrenCreated != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(ing.docs) != 1 {
		t.Fatalf("ingested %d docs", len(ing.docs))
	}
	doc := ing.docs[0]
	if doc.Title != "guide" || doc.Text != "Setup\n\nInstall it." {
		t.Errorf("document = %+v", doc)
	}
	if snap.ContentHash != ContentHashHex([]byte(doc.Text)) {
		t.Errorf("content hash does not match ingested text")
	}
	if snap.Progress.Characters != len("Setup\n\nInstall it.") {
		t.Errorf("characters = %d", snap.Progress.Characters)
	}
}

func TestWorker_TitleAndDocIDOverride(t *testing.T) {
	ing := &fakeIngester{}
	job := NewJob("j", "notes.txt", "Field Notes", "notes-1", []byte("alpha"))
	NewWorker(ing, testLogger(), false).Process(context.Background(), job)

	if ing.docs[0].Title != "Field Notes" || ing.docs[0].DocID != "notes-1" {
		t.Errorf("document = %+v", ing.docs[0])
	}
	if job.Snapshot().DocID != "notes-1" {
		t.Errorf("doc id = %q", job.Snapshot().DocID)
	}
}

func TestWorker_Failures(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		data      string
		ingestErr error
		phase     string
	}{
		{"unsupported", "a.exe", "x", nil, "parsing"},
		{"bad pdf", "a.pdf", "not a pdf", nil, "parsing"},
		{"empty text", "a.txt", " \n\n ", nil, "segmenting"},
		{"ingest error", "a.txt", "hello", errors.New("embedding: down"), "indexing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{err: tt.ingestErr}
			job := NewJob("j", tt.filename, "", "", []byte(tt.data))
			NewWorker(ing, testLogger(), false).Process(context.Background(), job)

			snap := job.Snapshot()
			if snap.Status != StatusFailed {
				t.Fatalf("status = %q", snap.Status)
			}
			if snap.Phase != tt.phase {
				t.Errorf("phase = %q, want %q", snap.Phase, tt.phase)
			}
			if len(snap.Progress.Errors) == 0 {
				t.Error("expected an error message")
			}
		})
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.MaxQueueSize = 4
	return cfg
}

func waitForStatus(t *testing.T, job *Job, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s stuck in %q, want %q", job.ID, job.Snapshot().Status, want)
}

func TestOrchestrator_SubmitAndProcess(t *testing.T) {
	o := NewOrchestrator(testConfig(), &fakeIngester{}, nil)
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("job-1", "a.txt", "", "", []byte("some text"))
	if err := o.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.GetJob("job-1") != job {
		t.Fatal("submitted job not registered")
	}
	waitForStatus(t, job, StatusCompleted)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.MaxQueueSize = 1
	ing := &fakeIngester{block: make(chan struct{})}
	o := NewOrchestrator(cfg, ing, nil)
	o.Start(context.Background())
	defer o.Stop()
	defer close(ing.block)

	first := NewJob("1", "a.txt", "", "", []byte("one"))
	if err := o.Submit(first); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, first, StatusIndexing)

	if err := o.Submit(NewJob("2", "a.txt", "", "", []byte("two"))); err != nil {
		t.Fatal(err)
	}
	third := NewJob("3", "a.txt", "", "", []byte("three"))
	err := o.Submit(third)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	snap := third.Snapshot()
	if snap.Status != StatusFailed || !strings.Contains(snap.Progress.Errors[0], "full") {
		t.Errorf("rejected job = %+v", snap)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("queue depth = %d", o.QueueDepth())
	}
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	o := NewOrchestrator(testConfig(), &fakeIngester{}, nil)
	o.Start(context.Background())
	o.Stop()
	o.Stop()
	if err := o.Submit(NewJob("late", "a.txt", "", "", []byte("x"))); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}
