package health

import "context"

// BackendPinger checks the active vector store.
type BackendPinger interface {
	Ping(ctx context.Context) error
}

// CachePinger checks the embedding cache.
type CachePinger interface {
	Ping(ctx context.Context) error
}
