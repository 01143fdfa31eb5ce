package backend

import (
	"context"

	"github.com/tabrag/tabrag/internal/domain"
)

// Opener builds and initializes a vector store for a backend config.
type Opener interface {
	Open(ctx context.Context, cfg domain.BackendConfig) (domain.VectorStore, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
