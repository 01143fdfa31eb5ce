package reindex

import (
	"context"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
)

// Source lists the stored chunks to re-embed.
type Source interface {
	AllDocuments(ctx context.Context) ([]ranking.Candidate, error)
}

// Chunker splits stored text into embedding windows.
type Chunker interface {
	Split(text string) []string
}

// IndexWriter receives the rebuilt chunks.
type IndexWriter interface {
	Merge(docs []domain.Document)
	Save() error
}
