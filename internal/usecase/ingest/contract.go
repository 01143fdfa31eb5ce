package ingest

import (
	"context"

	"github.com/tabrag/tabrag/internal/domain"
)

// StoreProvider returns the active vector store.
type StoreProvider interface {
	Current() (domain.VectorStore, domain.BackendKind, error)
}

// Scraper fetches a page as markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// Chunker splits page text into chunks.
type Chunker interface {
	Split(text string) []string
}

// IndexWriter receives every saved chunk for local search.
type IndexWriter interface {
	Merge(docs []domain.Document)
	Save() error
}
