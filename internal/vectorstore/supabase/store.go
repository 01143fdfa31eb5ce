// Package supabase stores documents in the documents table of a Supabase
// project through its REST API. The table is provisioned by the user; its
// embedding column may be json, text or pgvector.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/vectorstore"
)

const (
	table = "documents"
	// insertBatch bounds rows per insert request.
	insertBatch = 500
	// pageSize matches the default PostgREST max-rows of a Supabase project.
	pageSize = 1000
)

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// client is the subset of the REST API the store uses.
type client interface {
	Insert(ctx context.Context, table string, rows any) error
	Select(ctx context.Context, table string, params url.Values, out any) error
}

type insertRow struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

type selectRow struct {
	Content   *string         `json:"content"`
	Metadata  json.RawMessage `json:"metadata"`
	Embedding json.RawMessage `json:"embedding"`
}

// Store is a Supabase-backed vector store.
type Store struct {
	api    client
	ranker *ranking.Ranker
	logger *zap.Logger
}

// New creates a store over a Supabase REST client.
func New(api client, ranker *ranking.Ranker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{api: api, ranker: ranker, logger: logger}
}

// Init checks that the key is accepted and the documents table is readable.
func (s *Store) Init(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	s.logger.Info("Using Supabase backend")
	return nil
}

// Ping reads at most one row id.
func (s *Store) Ping(ctx context.Context) error {
	var rows []map[string]any
	params := url.Values{"select": {"id"}, "limit": {"1"}}
	if err := s.api.Select(ctx, table, params, &rows); err != nil {
		return fmt.Errorf("supabase: %w", err)
	}
	return nil
}

// AddDocuments inserts docs in batches.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) error {
	for start := 0; start < len(docs); start += insertBatch {
		end := min(start+insertBatch, len(docs))

		rows := make([]insertRow, 0, end-start)
		for _, d := range docs[start:end] {
			meta := d.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			rows = append(rows, insertRow{Content: d.Text, Metadata: meta, Embedding: d.Embedding})
		}
		if err := s.api.Insert(ctx, table, rows); err != nil {
			return fmt.Errorf("supabase: insert documents [%d:%d]: %w", start, end, err)
		}
	}
	s.logger.Debug("Added documents to Supabase", zap.Int("count", len(docs)))
	return nil
}

// AllDocuments pages through the table ordered by id until an empty page.
func (s *Store) AllDocuments(ctx context.Context) ([]ranking.Candidate, error) {
	var out []ranking.Candidate
	for offset := 0; ; {
		var page []selectRow
		params := url.Values{
			"select": {"content,metadata,embedding"},
			"order":  {"id.asc"},
			"limit":  {strconv.Itoa(pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		if err := s.api.Select(ctx, table, params, &page); err != nil {
			return nil, fmt.Errorf("supabase: list documents: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, row := range page {
			out = append(out, s.candidate(row))
		}
		offset += len(page)
	}
}

func (s *Store) candidate(row selectRow) ranking.Candidate {
	c := ranking.Candidate{Metadata: decodeMetadata(row.Metadata), Embedding: decodeEmbedding(row.Embedding)}
	if c.Metadata == nil {
		s.logger.Warn("Skipping unreadable metadata", zap.ByteString("metadata", row.Metadata))
		c.Metadata = map[string]any{}
	}
	if row.Content != nil {
		c.Text = *row.Content
	}
	return c
}

// decodeMetadata accepts a jsonb object or a text column holding one. It
// returns nil when the value is neither.
func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}
	}
	var meta map[string]any
	if json.Unmarshal(raw, &meta) == nil {
		return meta
	}
	var text string
	if json.Unmarshal(raw, &text) == nil && json.Unmarshal([]byte(text), &meta) == nil {
		return meta
	}
	return nil
}

// decodeEmbedding unwraps pgvector and text columns, which arrive as a JSON
// string ("[0.1,...]"), so the ranker sees the array text itself.
func decodeEmbedding(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return raw
}

// SimilaritySearch ranks all rows locally.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	return vectorstore.LocalSearch(ctx, s, s.ranker, query, k)
}

// Close is a no-op; the REST client holds no connection state.
func (s *Store) Close() error { return nil }
