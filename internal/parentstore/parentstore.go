// Package parentstore keeps parent sections addressable by parent id, so
// aggregation can use one authoritative copy of each parent's text.
package parentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/dgallion1/parentdoc/internal/aggregate"
	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/pathstore"
)

var (
	_ aggregate.ParentStore = (*Memory)(nil)
	_ aggregate.ParentStore = (*PathStore)(nil)
)

// Memory is a process-local store.
type Memory struct {
	mu      sync.RWMutex
	parents map[string]doctree.ParentSection
}

func NewMemory() *Memory {
	return &Memory{parents: make(map[string]doctree.ParentSection)}
}

func (m *Memory) PutParents(_ context.Context, parents []doctree.ParentSection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range parents {
		m.parents[p.ParentID] = p
	}
	return nil
}

func (m *Memory) GetParents(_ context.Context, ids []string) (map[string]doctree.ParentSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]doctree.ParentSection, len(ids))
	for _, id := range ids {
		if p, ok := m.parents[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.parents {
		if p.DocID == docID {
			delete(m.parents, id)
		}
	}
	return nil
}

// KeyPrefix is the pathstore namespace parents live under.
const KeyPrefix = "parentdoc/parents"

// PathStore stores each parent at parentdoc/parents/{doc_id}/{parent_index}.
type PathStore struct {
	client *pathstore.Client
}

func NewPathStore(c *pathstore.Client) *PathStore {
	return &PathStore{client: c}
}

func parentKey(docID string, index int) string {
	return KeyPrefix + "/" + escapeSegment(docID) + "/" + strconv.Itoa(index)
}

// escapeSegment keeps a doc id to one path level of the request URL.
func escapeSegment(s string) string {
	return url.PathEscape(s)
}

func (s *PathStore) PutParents(ctx context.Context, parents []doctree.ParentSection) error {
	for _, p := range parents {
		if err := s.client.Put(ctx, parentKey(p.DocID, p.ParentIndex), p); err != nil {
			return fmt.Errorf("store parent %s: %w", p.ParentID, err)
		}
	}
	return nil
}

// GetParents resolves ids of the form "{doc_id}::p{index}". Ids in another
// form are skipped.
func (s *PathStore) GetParents(ctx context.Context, ids []string) (map[string]doctree.ParentSection, error) {
	out := make(map[string]doctree.ParentSection, len(ids))
	for _, id := range ids {
		docID, index, ok := SplitParentID(id)
		if !ok {
			continue
		}
		node, err := s.client.Get(ctx, parentKey(docID, index))
		if err != nil {
			return nil, fmt.Errorf("load parent %s: %w", id, err)
		}
		if node == nil {
			continue
		}
		var p doctree.ParentSection
		if err := json.Unmarshal(node.Value, &p); err != nil {
			return nil, fmt.Errorf("decode parent %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

func (s *PathStore) DeleteDocument(ctx context.Context, docID string) error {
	return s.client.Delete(ctx, KeyPrefix+"/"+escapeSegment(docID), true)
}

// SplitParentID reverses chunker.ParentID.
func SplitParentID(id string) (docID string, index int, ok bool) {
	i := strings.LastIndex(id, "::p")
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+3:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}
