package chat

import (
	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
)

// Index ranks locally indexed chunks against a query vector.
type Index interface {
	Search(query []float32, k int) []ranking.Scored
}

// StoreProvider returns the active vector store.
type StoreProvider interface {
	Current() (domain.VectorStore, domain.BackendKind, error)
}
