// Package postgres stores documents in PostgreSQL through pgx. It serves two
// backends: a self-managed database where tabrag owns the schema and embeddings
// are FLOAT8[], and a hosted Supabase project whose documents table is
// provisioned by the user and whose embedding column may be json, text or pgvector.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/vectorstore"
)

// Mode selects the schema flavour.
type Mode int

// Modes.
const (
	// ModeLocal owns the schema and stores FLOAT8[] embeddings.
	ModeLocal Mode = iota
	// ModeHosted expects an existing table and writes embeddings as JSON text.
	ModeHosted
)

const localSchema = `CREATE TABLE IF NOT EXISTS documents (
	id SERIAL PRIMARY KEY,
	content TEXT,
	metadata JSONB,
	embedding FLOAT8[]
)`

var (
	_ domain.VectorStore        = (*Store)(nil)
	_ domain.SimilaritySearcher = (*Store)(nil)
)

// Config holds connection settings.
type Config struct {
	DSN string
	// Password is applied when the DSN carries none (Supabase service key flow).
	Password string
	Mode     Mode
}

// conn is the part of *pgxpool.Pool the store uses.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// Store is a PostgreSQL-backed vector store.
type Store struct {
	cfg    Config
	db     conn
	ranker *ranking.Ranker
	logger *zap.Logger
}

// New creates a store. Init connects.
func New(cfg Config, ranker *ranking.Ranker, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, ranker: ranker, logger: logger}
}

// Init connects and, in local mode, ensures the documents table exists.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return errors.New("postgres: store already open")
	}

	poolCfg, err := poolConfig(s.cfg)
	if err != nil {
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: ping: %w", err)
	}

	if err := s.ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}

	s.db = pool
	s.logger.Info("Using PostgreSQL backend",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("mode", s.cfg.Mode.String()),
	)
	return nil
}

// ensureSchema creates the documents table in local mode. Hosted tables are
// provisioned by the user.
func (s *Store) ensureSchema(ctx context.Context, db conn) error {
	if s.cfg.Mode != ModeLocal {
		return nil
	}
	if _, err := db.Exec(ctx, localSchema); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if pc.ConnConfig.Password == "" && cfg.Password != "" {
		pc.ConnConfig.Password = cfg.Password
	}
	return pc, nil
}

// AddDocuments inserts docs with one pipelined batch, which the server runs
// as a single implicit transaction.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: marshal metadata [%d]: %w", i, err)
		}
		emb, err := s.embeddingArg(d.Embedding)
		if err != nil {
			return fmt.Errorf("postgres: encode embedding [%d]: %w", i, err)
		}
		batch.Queue(`INSERT INTO documents (content, metadata, embedding) VALUES ($1, $2, $3)`,
			d.Text, string(meta), emb)
	}

	if s.db == nil {
		return errors.New("postgres: store not initialized")
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert documents: %w", err)
	}

	s.logger.Debug("Added documents to PostgreSQL", zap.Int("count", len(docs)))
	return nil
}

// embeddingArg encodes a vector for the embedding column of the current mode.
func (s *Store) embeddingArg(v []float32) (any, error) {
	if s.cfg.Mode == ModeLocal {
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AllDocuments returns every row. The embedding is read as text in hosted mode
// so json, text and pgvector columns all come back as "[...]" strings.
func (s *Store) AllDocuments(ctx context.Context) ([]ranking.Candidate, error) {
	query := `SELECT content, metadata, embedding FROM documents ORDER BY id`
	if s.cfg.Mode == ModeHosted {
		query = `SELECT content, metadata::text, embedding::text FROM documents`
	}

	if s.db == nil {
		return nil, errors.New("postgres: store not initialized")
	}
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query documents: %w", err)
	}
	defer rows.Close()

	var out []ranking.Candidate
	for rows.Next() {
		c, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate: %w", err)
	}
	return out, nil
}

func (s *Store) scanRow(rows pgx.Rows) (ranking.Candidate, error) {
	var content *string
	c := ranking.Candidate{Metadata: map[string]any{}}

	if s.cfg.Mode == ModeLocal {
		var meta map[string]any
		var emb []float64
		if err := rows.Scan(&content, &meta, &emb); err != nil {
			return c, fmt.Errorf("postgres: scan: %w", err)
		}
		if meta != nil {
			c.Metadata = meta
		}
		if emb != nil {
			c.Embedding = emb
		}
	} else {
		var meta, emb *string
		if err := rows.Scan(&content, &meta, &emb); err != nil {
			return c, fmt.Errorf("postgres: scan: %w", err)
		}
		if meta != nil {
			if err := json.Unmarshal([]byte(*meta), &c.Metadata); err != nil {
				s.logger.Warn("Skipping unreadable metadata", zap.Error(err))
				c.Metadata = map[string]any{}
			}
		}
		if emb != nil {
			c.Embedding = hostedEmbedding(*emb)
		}
	}

	if content != nil {
		c.Text = *content
	}
	return c, nil
}

// hostedEmbedding unwraps json columns holding a JSON string ("\"[0.1,...]\"")
// so the ranker sees the array text itself.
func hostedEmbedding(raw string) any {
	var inner string
	if json.Unmarshal([]byte(raw), &inner) == nil {
		return inner
	}
	return raw
}

// SimilaritySearch ranks all rows locally.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]ranking.Scored, error) {
	return vectorstore.LocalSearch(ctx, s, s.ranker, query, k)
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("postgres: store not initialized")
	}
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

func (m Mode) String() string {
	if m == ModeHosted {
		return "hosted"
	}
	return "local"
}
