// Package aggregate turns child hits into ranked parent contexts that fit a
// count and character budget.
package aggregate

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"slices"
	"unicode/utf8"

	"github.com/dgallion1/parentdoc/internal/doctree"
)

// ExpandToParents groups hits by parent, keeps the best-scoring hit of each
// group as its representative and selects parents in score order.
//
// Selection stops at maxParents or at the first parent whose text would push
// the running total past contextMaxChars. The first parent is always taken.
// Hits without a parent id are ignored.
func ExpandToParents(hits []doctree.ChildHit, maxParents, contextMaxChars int) []doctree.ParentContext {
	return selectParents(rank(hits), maxParents, contextMaxChars)
}

// rank returns one context per parent, best score first, ties by parent id.
func rank(hits []doctree.ChildHit) []doctree.ParentContext {
	best := make(map[string]int)
	var ranked []doctree.ParentContext
	for _, h := range hits {
		pid := h.Metadata.ParentID
		if pid == "" {
			continue
		}
		i, ok := best[pid]
		if ok && h.Score <= ranked[i].Score {
			continue
		}
		pc := doctree.ParentContext{
			ParentID: pid,
			DocID:    h.Metadata.DocID,
			Title:    h.Metadata.Title,
			Score:    h.Score,
			Text:     h.Metadata.ParentText,
		}
		if ok {
			ranked[i] = pc
		} else {
			best[pid] = len(ranked)
			ranked = append(ranked, pc)
		}
	}

	slices.SortFunc(ranked, func(a, b doctree.ParentContext) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ParentID, b.ParentID)
	})
	return ranked
}

func selectParents(ranked []doctree.ParentContext, maxParents, contextMaxChars int) []doctree.ParentContext {
	selected := make([]doctree.ParentContext, 0, min(len(ranked), max(maxParents, 0)))
	total := 0
	for _, pc := range ranked {
		if len(selected) >= maxParents {
			break
		}
		n := utf8.RuneCountInString(pc.Text)
		if len(selected) > 0 && total+n > contextMaxChars {
			break
		}
		selected = append(selected, pc)
		total += n
	}
	return selected
}

// ParentStore holds authoritative parent text keyed by parent id.
type ParentStore interface {
	PutParents(ctx context.Context, parents []doctree.ParentSection) error
	// GetParents returns the stored sections for ids that exist. Missing ids
	// are absent from the map.
	GetParents(ctx context.Context, ids []string) (map[string]doctree.ParentSection, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// Aggregator runs ExpandToParents, optionally replacing the text copied into
// child metadata with the text held in a ParentStore.
type Aggregator struct {
	store  ParentStore
	logger *slog.Logger
}

// NewAggregator accepts a nil store, in which case Expand behaves exactly
// like ExpandToParents.
func NewAggregator(store ParentStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{store: store, logger: logger}
}

// Expand ranks and selects parents. Stored text is applied before selection
// so the budget is measured on the text that will be used. A store failure
// is logged and the copied text is kept.
func (a *Aggregator) Expand(ctx context.Context, hits []doctree.ChildHit, maxParents, contextMaxChars int) []doctree.ParentContext {
	ranked := rank(hits)
	if a.store != nil && len(ranked) > 0 {
		ids := make([]string, len(ranked))
		for i, pc := range ranked {
			ids[i] = pc.ParentID
		}
		stored, err := a.store.GetParents(ctx, ids)
		if err != nil {
			a.logger.Warn("parent store lookup failed, using copied parent text", "error", err)
		} else {
			for i := range ranked {
				if ps, ok := stored[ranked[i].ParentID]; ok {
					ranked[i].Text = ps.Text
				}
			}
		}
	}
	return selectParents(ranked, maxParents, contextMaxChars)
}
