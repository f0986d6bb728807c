// Package search indexes artifact text and answers related-content queries for
// prompts and the project search endpoint.
package search

import "context"

// DefaultTopK is used when a query does not set TopK.
const DefaultTopK = 3

// Document is one indexed text. Scope restricts results, typically to a
// project id.
type Document struct {
	ID    string
	Scope string
	Text  string
}

// Query selects documents. An empty Scope searches every document.
type Query struct {
	Text  string
	Scope string
	TopK  int
}

// Result is a scored hit, highest score first.
type Result struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Index stores documents and searches them. Implementations never fail a
// search; a degraded backend returns fewer or substring-ranked results.
type Index interface {
	Add(ctx context.Context, doc Document)
	Search(ctx context.Context, q Query) []Result
	Name() string
}

func topK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}
