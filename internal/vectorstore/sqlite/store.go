// Package sqlite stores documents in a local SQLite file. Embeddings are kept
// as JSON text, so they come back as strings and are decoded by the ranker.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/vectorstore"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT,
	metadata JSON,
	embedding JSON
)`

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// Store is a SQLite-backed vector store.
type Store struct {
	path   string
	db     *sql.DB
	ranker *ranking.Ranker
	logger *zap.Logger
}

// New creates a store for the database file at path. Init opens it.
func New(path string, ranker *ranking.Ranker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, ranker: ranker, logger: logger}
}

// Init opens the database, creating its directory and the documents table as needed.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return errors.New("sqlite: store already open")
	}
	if s.path == "" {
		return errors.New("sqlite: path is required")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", s.path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}

	s.db = db
	s.logger.Info("Using SQLite backend", zap.String("path", s.path))
	return nil
}

// AddDocuments inserts docs in one transaction.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) (err error) {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (content, metadata, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata [%d]: %w", i, err)
		}
		emb, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: marshal embedding [%d]: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, d.Text, string(meta), string(emb)); err != nil {
			return fmt.Errorf("sqlite: insert [%d]: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	s.logger.Debug("Added documents to SQLite", zap.Int("count", len(docs)))
	return nil
}

// AllDocuments returns every row. Rows with unreadable metadata keep an empty map.
func (s *Store) AllDocuments(ctx context.Context) ([]ranking.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content, metadata, embedding FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query documents: %w", err)
	}
	defer rows.Close()

	var out []ranking.Candidate
	for rows.Next() {
		var content, meta, emb sql.NullString
		if err := rows.Scan(&content, &meta, &emb); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}

		c := ranking.Candidate{Text: content.String, Metadata: map[string]any{}}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				s.logger.Warn("Skipping unreadable metadata", zap.Error(err))
				c.Metadata = map[string]any{}
			}
		}
		if emb.Valid {
			c.Embedding = emb.String
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate: %w", err)
	}
	return out, nil
}

// SimilaritySearch ranks all rows locally.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	return vectorstore.LocalSearch(ctx, s, s.ranker, query, k)
}

// Ping checks that the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("sqlite: store not open")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
