// Package vectorstore holds the backend implementations of domain.VectorStore
// and helpers shared between them.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/tabrag/tabrag/internal/domain/ranking"
)

// Lister is the part of domain.VectorStore needed for local ranking.
type Lister interface {
	AllDocuments(ctx context.Context) ([]ranking.Candidate, error)
}

// LocalSearch loads every stored candidate and ranks it in process.
// Backends without server-side vector search use it for SimilaritySearch.
func LocalSearch(ctx context.Context, l Lister, r *ranking.Ranker, query []float32, k int) ([]ranking.Scored, error) {
	candidates, err := l.AllDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return r.TopK(query, candidates, k), nil
}
