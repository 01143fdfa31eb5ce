// Package search answers semantic queries from the local file index.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/tabrag/tabrag/internal/domain"
)

const (
	// DefaultTopK is the number of results returned when unconfigured.
	DefaultTopK      = 5
	defaultKeyPrefix = "sk-"
)

// Result is one search hit with normalized metadata.
type Result struct {
	Content  string
	Metadata domain.ChunkMeta
	Score    float64
}

// Service handles query embedding and index lookup.
type Service struct {
	index     Index
	stores    StoreProvider
	embedders domain.EmbedderFactory
	topK      int
	keyPrefix string
}

// New creates a search service.
func New(index Index, stores StoreProvider, embedders domain.EmbedderFactory) *Service {
	return &Service{
		index:     index,
		stores:    stores,
		embedders: embedders,
		topK:      DefaultTopK,
		keyPrefix: defaultKeyPrefix,
	}
}

// WithTopK configures how many results a query returns.
func (s *Service) WithTopK(k int) *Service {
	if k > 0 {
		s.topK = k
	}
	return s
}

// WithKeyPrefix configures the accepted API key prefix.
func (s *Service) WithKeyPrefix(prefix string) *Service {
	if prefix != "" {
		s.keyPrefix = prefix
	}
	return s
}

// Search embeds q with the caller's key and returns the closest indexed chunks.
func (s *Service) Search(ctx context.Context, apiKey, q string) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("query required: %w", domain.ErrInvalidRequest)
	}
	if err := domain.ValidateAPIKey(apiKey, s.keyPrefix); err != nil {
		return nil, err
	}
	if _, _, err := s.stores.Current(); err != nil {
		return nil, err
	}

	emb, err := s.embedders.ForKey(apiKey).Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	domain.UsageFromContext(ctx).Add(emb.TotalTokens)

	hits := s.index.Search(emb.Embedding, s.topK)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if domain.IsPlaceholder(h.Text, h.Metadata) {
			continue
		}
		results = append(results, Result{
			Content:  h.Text,
			Metadata: domain.NormalizeMeta(h.Metadata),
			Score:    h.Score,
		})
	}
	return results, nil
}
