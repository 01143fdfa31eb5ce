package domain

import (
	"context"

	"github.com/tabrag/tabrag/internal/domain/ranking"
)

// BackendKind names a vector store implementation.
type BackendKind string

// Supported backends.
const (
	BackendNone     BackendKind = ""
	BackendSupabase BackendKind = "supabase"
	BackendLocal    BackendKind = "local"
	BackendSQLite   BackendKind = "sqlite"
	BackendRedis    BackendKind = "redis"
	BackendQdrant   BackendKind = "qdrant"
	BackendMoorcheh BackendKind = "moorcheh"
)

// BackendConfig selects and parameterizes a vector store. It is passed
// explicitly to whatever opens a store; there is no process-wide backend.
type BackendConfig struct {
	Kind       BackendKind `yaml:"kind" json:"kind"`
	URL        string      `yaml:"url" json:"url,omitempty"`
	Key        string      `yaml:"key" json:"key,omitempty"`
	DSN        string      `yaml:"dsn" json:"dsn,omitempty"`
	Path       string      `yaml:"path" json:"path,omitempty"`
	Addrs      []string    `yaml:"addrs" json:"addrs,omitempty"`
	Password   string      `yaml:"password" json:"password,omitempty"`
	Collection string      `yaml:"collection" json:"collection,omitempty"`
	Namespace  string      `yaml:"namespace" json:"namespace,omitempty"`
	Dimensions int         `yaml:"dimensions" json:"dimensions,omitempty"`
}

// VectorStore persists embedded documents.
type VectorStore interface {
	Init(ctx context.Context) error
	AddDocuments(ctx context.Context, docs []Document) error
	// AllDocuments returns every stored chunk. The embedding field keeps the
	// backend's native shape and is normalized by the ranker.
	AllDocuments(ctx context.Context) ([]ranking.Candidate, error)
	Close() error
}

// SimilaritySearcher is implemented by stores that can rank by a query vector.
type SimilaritySearcher interface {
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error)
}
