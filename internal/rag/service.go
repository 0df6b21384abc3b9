// Package rag wires segmentation, indexing, retrieval, aggregation and answer
// composition into the two operations the outer surfaces expose.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/parentdoc/internal/aggregate"
	"github.com/dgallion1/parentdoc/internal/answer"
	"github.com/dgallion1/parentdoc/internal/chunker"
	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/embedding"
	"github.com/dgallion1/parentdoc/internal/index"
	"github.com/dgallion1/parentdoc/internal/llm"
	"github.com/dgallion1/parentdoc/internal/retrieve"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
)

// Settings are the tunables of the core pipeline.
type Settings struct {
	Chunking          chunker.Config
	RetrievalChildren int
	MaxParents        int
	ContextMaxChars   int
}

func DefaultSettings() Settings {
	return Settings{
		Chunking:          chunker.DefaultConfig(),
		RetrievalChildren: 30,
		MaxParents:        4,
		ContextMaxChars:   8000,
	}
}

func (s Settings) Validate() error {
	if err := s.Chunking.Validate(); err != nil {
		return err
	}
	if s.RetrievalChildren <= 0 {
		return fmt.Errorf("retrieval children must be positive, got %d", s.RetrievalChildren)
	}
	if s.MaxParents <= 0 {
		return fmt.Errorf("max parents must be positive, got %d", s.MaxParents)
	}
	if s.ContextMaxChars <= 0 {
		return fmt.Errorf("context max chars must be positive, got %d", s.ContextMaxChars)
	}
	return nil
}

// Deps are the capabilities the service is built from. Parents may be nil.
type Deps struct {
	Embedder  embedding.Embedder
	Index     vectorindex.Index
	Generator llm.Generator
	Parents   aggregate.ParentStore
	Logger    *slog.Logger
}

type Service struct {
	settings   Settings
	index      vectorindex.Index
	parents    aggregate.ParentStore
	indexer    *index.Indexer
	retriever  *retrieve.Retriever
	aggregator *aggregate.Aggregator
	composer   *answer.Composer
	logger     *slog.Logger
}

func New(settings Settings, deps Deps) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("rag settings: %w", err)
	}
	if deps.Embedder == nil || deps.Index == nil || deps.Generator == nil {
		return nil, errors.New("rag: embedder, index and generator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		settings:   settings,
		index:      deps.Index,
		parents:    deps.Parents,
		indexer:    index.NewIndexer(deps.Embedder, deps.Index, logger),
		retriever:  retrieve.NewRetriever(deps.Embedder, deps.Index, logger),
		aggregator: aggregate.NewAggregator(deps.Parents, logger),
		composer:   answer.NewComposer(deps.Generator),
		logger:     logger,
	}, nil
}

type IngestResult struct {
	ParentsCreated  int      `json:"parents_created"`
	ChildrenCreated int      `json:"children_created"`
	DocIDs          []string `json:"doc_ids"`
}

// IngestDocuments segments every document and indexes all children in one
// batch. Documents without an id get one from DeriveDocID.
func (s *Service) IngestDocuments(ctx context.Context, docs []doctree.Document) (IngestResult, error) {
	res := IngestResult{DocIDs: make([]string, 0, len(docs))}
	var (
		parents  []doctree.ParentSection
		children []doctree.ChildChunk
	)
	for _, d := range docs {
		if d.DocID == "" {
			d.DocID = DeriveDocID(d.Title, d.Text)
		}
		ps, cs := s.settings.Chunking.Segment(d)
		parents = append(parents, ps...)
		children = append(children, cs...)
		res.DocIDs = append(res.DocIDs, d.DocID)
		s.logger.Debug("segmented document",
			"doc_id", d.DocID,
			"parents", len(ps),
			"children", len(cs),
			"est_tokens", chunker.EstimateTokens(d.Text),
		)
	}

	// Parents are stored only once their children are indexed. Children
	// without a stored parent still carry the parent text in metadata.
	n, err := s.indexer.Ingest(ctx, children)
	if err != nil {
		return res, classify(err)
	}
	res.ChildrenCreated = n

	if s.parents != nil && len(parents) > 0 {
		if err := s.parents.PutParents(ctx, parents); err != nil {
			return res, fmt.Errorf("%w: %w", ErrParentStore, err)
		}
	}
	res.ParentsCreated = len(parents)
	s.logger.Info("ingested documents", "documents", len(docs), "parents", res.ParentsCreated, "children", n)
	return res, nil
}

// QueryRequest overrides settings for one query. Non-positive overrides use
// the configured value.
type QueryRequest struct {
	Query          string
	TopChildren    int
	MaxParents     int
	GenerateAnswer bool
}

type QueryResult struct {
	Query    string                  `json:"query"`
	Children []doctree.ChildHit      `json:"children"`
	Parents  []doctree.ParentContext `json:"parents"`
	Answer   *string                 `json:"answer"`
}

// Query retrieves children, expands them to parents and, when asked,
// composes an answer. Answer is nil when generation was not requested.
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return QueryResult{}, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	topK := req.TopChildren
	if topK <= 0 {
		topK = s.settings.RetrievalChildren
	}
	maxParents := req.MaxParents
	if maxParents <= 0 {
		maxParents = s.settings.MaxParents
	}

	start := time.Now()
	hits, err := s.retriever.RetrieveChildren(ctx, req.Query, topK)
	if err != nil {
		return QueryResult{}, classify(err)
	}
	parents := s.aggregator.Expand(ctx, hits, maxParents, s.settings.ContextMaxChars)

	res := QueryResult{Query: req.Query, Children: hits, Parents: parents}
	if req.GenerateAnswer {
		text, err := s.composer.ComposeAnswer(ctx, req.Query, parents)
		if err != nil {
			return QueryResult{}, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		res.Answer = &text
	}

	s.logger.Info("query served",
		"children", len(hits),
		"parents", len(parents),
		"answered", req.GenerateAnswer,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// DeleteDocument removes every child of docID, and its stored parents when a
// parent store is configured. It reports the number of children removed.
func (s *Service) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if docID == "" {
		return 0, fmt.Errorf("%w: doc id must not be empty", ErrInvalidInput)
	}
	n, err := s.index.DeleteDocument(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	if s.parents != nil {
		if err := s.parents.DeleteDocument(ctx, docID); err != nil {
			return n, fmt.Errorf("%w: %w", ErrParentStore, err)
		}
	}
	s.logger.Info("deleted document", "doc_id", docID, "children", n)
	return n, nil
}

// Count returns the number of stored children.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	return n, nil
}

// classify tags capability failures with the matching sentinel.
func classify(err error) error {
	var (
		embedErr  *index.EmbedError
		insertErr *index.InsertError
		stageErr  *retrieve.StageError
	)
	switch {
	case errors.As(err, &embedErr):
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	case errors.As(err, &insertErr):
		return fmt.Errorf("%w: %w", ErrIndex, err)
	case errors.As(err, &stageErr) && stageErr.Stage == "embed":
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	case errors.As(err, &stageErr):
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	return err
}
