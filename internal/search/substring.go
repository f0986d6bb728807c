package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Substring ranks documents by how many times the lowercased query occurs in
// their lowercased text. Ties keep insertion order.
type Substring struct {
	mu    sync.RWMutex
	order []string
	docs  map[string]Document
}

// NewSubstring creates an empty substring index.
func NewSubstring() *Substring {
	return &Substring{docs: make(map[string]Document)}
}

// Name implements Index.
func (s *Substring) Name() string { return "local" }

// Add inserts or replaces a document.
func (s *Substring) Add(_ context.Context, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc
}

// Len returns the number of indexed documents.
func (s *Substring) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search implements Index.
func (s *Substring) Search(_ context.Context, q Query) []Result {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	var scored []Result
	for _, id := range s.order {
		doc := s.docs[id]
		if q.Scope != "" && doc.Scope != q.Scope {
			continue
		}
		if n := strings.Count(strings.ToLower(doc.Text), needle); n > 0 {
			scored = append(scored, Result{DocID: doc.ID, Score: float64(n), Text: doc.Text})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k := topK(q.TopK); len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
