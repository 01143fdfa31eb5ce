// Package moorcheh stores documents in a Moorcheh vector namespace.
package moorcheh

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/transport/moorcheh"
)

const (
	// DefaultNamespace is used when the backend config names none.
	DefaultNamespace = "tabrag"
	// uploadBatch bounds vectors per upload request.
	uploadBatch = 40
	maxIDLen    = 1000
)

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// client is the subset of the Moorcheh API the store uses.
type client interface {
	CreateNamespace(ctx context.Context, name string, typ moorcheh.NamespaceType, dims int) error
	UploadVectors(ctx context.Context, namespace string, vectors []moorcheh.Vector) error
	Search(ctx context.Context, req moorcheh.SearchRequest) (moorcheh.SearchResponse, error)
}

// Store is a Moorcheh-backed vector store.
type Store struct {
	api       client
	namespace string
	dims      int
	logger    *zap.Logger
}

// New creates a store over a Moorcheh client.
func New(api client, namespace string, dims int, logger *zap.Logger) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{api: api, namespace: namespace, dims: dims, logger: logger}
}

// Init creates the vector namespace if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if s.dims <= 0 {
		return fmt.Errorf("moorcheh: namespace %s needs vector dimensions", s.namespace)
	}
	if err := s.api.CreateNamespace(ctx, s.namespace, moorcheh.NamespaceVector, s.dims); err != nil {
		return fmt.Errorf("moorcheh: %w", err)
	}
	s.logger.Info("Using Moorcheh backend", zap.String("namespace", s.namespace))
	return nil
}

// AddDocuments uploads documents in batches. Ids derive from url and part so
// re-ingesting a tab overwrites its chunks.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) error {
	for start := 0; start < len(docs); start += uploadBatch {
		end := min(start+uploadBatch, len(docs))

		vectors := make([]moorcheh.Vector, 0, end-start)
		for _, d := range docs[start:end] {
			meta := make(map[string]any, len(d.Metadata)+1)
			for k, v := range d.Metadata {
				meta[k] = v
			}
			meta["text"] = d.Text
			vectors = append(vectors, moorcheh.Vector{
				ID:       documentID(d.Metadata),
				Vector:   d.Embedding,
				Metadata: meta,
			})
		}

		if err := s.api.UploadVectors(ctx, s.namespace, vectors); err != nil {
			return fmt.Errorf("moorcheh: batch at %d: %w", start, err)
		}
	}
	return nil
}

// AllDocuments is not offered by the Moorcheh API.
func (s *Store) AllDocuments(context.Context) ([]ranking.Candidate, error) {
	return nil, fmt.Errorf("moorcheh: list documents: %w", domain.ErrNotSupported)
}

// SimilaritySearch runs a vector query against the namespace.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	if k <= 0 {
		return []ranking.Scored{}, nil
	}
	resp, err := s.api.Search(ctx, moorcheh.SearchRequest{
		Namespaces: []string{s.namespace},
		Query:      query,
		TopK:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("moorcheh: %w", err)
	}

	out := make([]ranking.Scored, 0, len(resp.Results))
	for _, r := range resp.Results {
		meta := make(map[string]any, len(r.Metadata))
		text := r.Text
		for key, v := range r.Metadata {
			if key == "text" {
				if t, ok := v.(string); ok && text == "" {
					text = t
				}
				continue
			}
			meta[key] = v
		}
		out = append(out, ranking.Scored{Text: text, Metadata: meta, Score: r.Score})
	}
	return out, nil
}

// Close is a no-op; the HTTP client holds no connection state worth releasing.
func (s *Store) Close() error { return nil }

func documentID(meta map[string]any) string {
	u := domain.MetaString(meta, domain.MetaURL)
	if u == "" {
		return uuid.NewString()
	}
	id := fmt.Sprintf("%s::part:%d", u, domain.MetaInt(meta, domain.MetaPart))
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return id
}
