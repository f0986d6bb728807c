package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EmbeddingIndex ranks documents by cosine similarity of embedding vectors.
// Every document is also added to a substring index, and any search that
// cannot be answered from vectors is answered by that index instead.
type EmbeddingIndex struct {
	embedder Embedder
	fallback *Substring
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewEmbeddingIndex creates an index using embedder. timeout bounds each
// embedding call; zero means no extra bound.
func NewEmbeddingIndex(embedder Embedder, timeout time.Duration, logger zerolog.Logger) *EmbeddingIndex {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	return &EmbeddingIndex{
		embedder: embedder,
		fallback: NewSubstring(),
		timeout:  timeout,
		logger:   logger.With().Str("component", "search.embedding").Logger(),
		vectors:  make(map[string][]float32),
	}
}

// Name implements Index.
func (x *EmbeddingIndex) Name() string { return "embedding" }

// Add embeds the document and indexes it for substring search concurrently.
// An embedding failure only leaves the document without a vector.
func (x *EmbeddingIndex) Add(ctx context.Context, doc Document) {
	var g errgroup.Group
	g.Go(func() error {
		x.fallback.Add(ctx, doc)
		return nil
	})
	g.Go(func() error {
		vec := x.embed(ctx, doc.Text)
		x.mu.Lock()
		if vec != nil {
			x.vectors[doc.ID] = vec
		} else {
			delete(x.vectors, doc.ID)
		}
		x.mu.Unlock()
		return nil
	})
	_ = g.Wait()
}

// VectorCount returns the number of cached embedding vectors.
func (x *EmbeddingIndex) VectorCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Search implements Index.
func (x *EmbeddingIndex) Search(ctx context.Context, q Query) []Result {
	if strings.TrimSpace(q.Text) == "" {
		return nil
	}

	if queryVec := x.embed(ctx, q.Text); queryVec != nil {
		if results := x.rank(queryVec, q); len(results) > 0 {
			return results
		}
	}
	return x.fallback.Search(ctx, q)
}

func (x *EmbeddingIndex) rank(queryVec []float32, q Query) []Result {
	x.fallback.mu.RLock()
	docs := make(map[string]Document, len(x.fallback.docs))
	for id, d := range x.fallback.docs {
		docs[id] = d
	}
	x.fallback.mu.RUnlock()

	x.mu.RLock()
	scored := make([]Result, 0, len(x.vectors))
	for id, vec := range x.vectors {
		doc, ok := docs[id]
		if !ok || (q.Scope != "" && doc.Scope != q.Scope) {
			continue
		}
		if sim := cosineSimilarity(queryVec, vec); sim > 0 {
			scored = append(scored, Result{DocID: id, Score: sim, Text: doc.Text})
		}
	}
	x.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].DocID < scored[j].DocID
	})
	if k := topK(q.TopK); len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (x *EmbeddingIndex) embed(ctx context.Context, text string) []float32 {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		x.logger.Warn().Err(err).Msg("Embedding failed; using substring search")
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

// cosineSimilarity returns the cosine similarity in [-1, 1] between two
// vectors, or 0 if either has zero magnitude or their lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
