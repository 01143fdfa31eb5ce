// Package redis stores documents as Redis hashes, one per chunk. When the
// server has the search module, a RediSearch vector index over the hashes
// answers similarity queries; otherwise documents are ranked in process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/db"
	dbredis "github.com/tabrag/tabrag/internal/db/redis"
	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/vectorstore"
)

const (
	keyPrefix = "tabrag:doc:"
	// fetchBatch bounds how many hashes one HGETALL pipeline reads.
	fetchBatch = 256

	indexName = "tabrag:idx:docs"

	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldEmbedding = "embedding"
	// fieldVector holds the FLOAT32 blob indexed by RediSearch.
	fieldVector = "vector"
)

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// backend is the consumer interface over db.Store (ISP).
type backend interface {
	db.Pinger
	db.HashStore
	db.IndexStore
	Close()
}

// Store is a Redis-backed vector store.
type Store struct {
	db     backend
	ranker *ranking.Ranker
	dims   int
	knn    bool // vector index available
	logger *zap.Logger
}

// New creates a store over an open redis client.
func New(b backend, ranker *ranking.Ranker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: b, ranker: ranker, logger: logger}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// WithDimensions sets the vector size of the search index. Zero disables it.
func (s *Store) WithDimensions(dims int) *Store {
	s.dims = dims
	return s
}

// Init checks connectivity and ensures the vector index. A server without
// the search module keeps working with in-process ranking.
func (s *Store) Init(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.dims > 0 {
		if err := s.ensureIndex(ctx); err != nil {
			s.logger.Warn("Vector index unavailable, ranking in process", zap.Error(err))
		} else {
			s.knn = true
		}
	}
	s.logger.Info("Using Redis backend", zap.Bool("vector_index", s.knn))
	return nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	exists, err := s.db.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	def, err := db.NewIndex(indexName).
		Prefix(keyPrefix).
		Text(fieldContent).
		Vector(fieldVector, s.dims, db.VectorHNSW, db.DistanceCosine).
		Build()
	if err != nil {
		return err
	}
	if err := s.db.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return err
	}
	return nil
}

// AddDocuments writes one hash per document in a single pipeline. The
// embedding is kept as JSON for listing and as a FLOAT32 blob for the index.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) error {
	items := make([]db.HashSetItem, 0, len(docs))
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("redis: marshal metadata [%d]: %w", i, err)
		}
		emb, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("redis: marshal embedding [%d]: %w", i, err)
		}
		fields := map[string]string{
			fieldContent:   d.Text,
			fieldMetadata:  string(meta),
			fieldEmbedding: string(emb),
		}
		if len(d.Embedding) > 0 {
			fields[fieldVector] = dbredis.VectorToBytes(d.Embedding)
		}
		items = append(items, db.HashSetItem{Key: keyPrefix + uuid.NewString(), Fields: fields})
	}
	if err := s.db.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("redis: add documents: %w", err)
	}
	return nil
}

// AllDocuments scans every document hash. Embeddings stay JSON text.
func (s *Store) AllDocuments(ctx context.Context) ([]ranking.Candidate, error) {
	keys, err := s.db.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("redis: scan documents: %w", err)
	}

	out := make([]ranking.Candidate, 0, len(keys))
	for start := 0; start < len(keys); start += fetchBatch {
		end := min(start+fetchBatch, len(keys))
		hashes, err := s.db.HGetAllMulti(ctx, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("redis: load documents: %w", err)
		}
		for _, h := range hashes {
			if len(h) == 0 {
				continue
			}
			out = append(out, s.toCandidate(h))
		}
	}
	return out, nil
}

func (s *Store) toCandidate(h map[string]string) ranking.Candidate {
	c := ranking.Candidate{Text: h[fieldContent], Metadata: s.metadata(h[fieldMetadata])}
	if raw, ok := h[fieldEmbedding]; ok {
		c.Embedding = raw
	}
	return c
}

func (s *Store) metadata(raw string) map[string]any {
	meta := map[string]any{}
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		s.logger.Warn("Skipping unreadable metadata", zap.Error(err))
		return map[string]any{}
	}
	return meta
}

// SimilaritySearch queries the vector index when it exists and the query
// matches its dimensions. Otherwise, or when the query fails, it ranks all
// documents locally.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	if k <= 0 {
		return []ranking.Scored{}, nil
	}
	if s.knn && len(query) == s.dims {
		hits, err := s.searchIndex(ctx, query, k)
		if err == nil {
			return hits, nil
		}
		s.logger.Warn("Vector index query failed, ranking in process", zap.Error(err))
	}
	return vectorstore.LocalSearch(ctx, s, s.ranker, query, k)
}

func (s *Store) searchIndex(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	res, err := s.db.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName,
		Field:        fieldVector,
		Vector:       query,
		K:            k,
		ReturnFields: []string{fieldContent, fieldMetadata},
	})
	if err != nil {
		return nil, err
	}

	out := make([]ranking.Scored, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, ranking.Scored{
			Text:     e.Fields[fieldContent],
			Metadata: s.metadata(e.Fields[fieldMetadata]),
			Score:    e.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
