// Package reindex rebuilds the file index from the chunks held by a vector store.
package reindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	dombatch "github.com/tabrag/tabrag/internal/domain/batch"
	"github.com/tabrag/tabrag/internal/logger"
)

// Report summarizes a reindex run with one result per stored document.
type Report struct {
	dombatch.Report
}

// Documents returns how many documents were re-embedded.
func (r Report) Documents() int { return r.Count(dombatch.StatusOK) }

// Chunks returns how many index records were written.
func (r Report) Chunks() int { return r.TotalChunks() }

// Skipped returns how many placeholder or empty documents were ignored.
func (r Report) Skipped() int { return r.Count(dombatch.StatusSkipped) }

// Failed returns how many documents could not be re-embedded.
func (r Report) Failed() int { return r.Count(dombatch.StatusError) }

// Service re-embeds stored documents.
type Service struct {
	chunker   Chunker
	embedders domain.EmbedderFactory
	keyPrefix string
	logger    *zap.Logger
}

// New creates a reindex service.
func New(chunker Chunker, embedders domain.EmbedderFactory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{chunker: chunker, embedders: embedders, keyPrefix: "sk-", logger: logger}
}

// WithKeyPrefix configures the accepted API key prefix.
func (s *Service) WithKeyPrefix(prefix string) *Service {
	if prefix != "" {
		s.keyPrefix = prefix
	}
	return s
}

// Run splits every stored chunk into windows, embeds them and writes them to index.
// Parts are renumbered per URL in storage order. A document that fails to
// embed is reported and skipped; the run fails only when none succeeded.
func (s *Service) Run(ctx context.Context, apiKey string, src Source, index IndexWriter) (Report, error) {
	log := logger.FromContext(ctx, s.logger)

	if err := domain.ValidateAPIKey(apiKey, s.keyPrefix); err != nil {
		return Report{}, err
	}

	candidates, err := src.AllDocuments(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load documents: %w", err)
	}

	embedder := s.embedders.ForKey(apiKey)
	parts := make(map[string]int)

	var report Report
	var firstErr error
	for _, c := range candidates {
		url := domain.MetaString(c.Metadata, domain.MetaURL)
		if domain.IsPlaceholder(c.Text, c.Metadata) {
			report.Results = append(report.Results, dombatch.NewSkipped(url))
			continue
		}
		windows := s.chunker.Split(c.Text)
		if len(windows) == 0 {
			report.Results = append(report.Results, dombatch.NewSkipped(url))
			continue
		}

		res, err := domain.EmbedAll(ctx, embedder, windows)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			log.Warn("Document reindex failed", zap.String("url", url), zap.Error(err))
			report.Results = append(report.Results, dombatch.NewError(url, err))
			if firstErr == nil {
				firstErr = fmt.Errorf("embed %q: %w", url, err)
			}
			continue
		}

		meta := domain.NormalizeMeta(c.Metadata)
		tab := domain.Tab{Title: meta.Title, URL: meta.URL}
		docs := make([]domain.Document, len(windows))
		for i, w := range windows {
			parts[meta.URL]++
			docs[i] = domain.NewChunkDocument(tab, parts[meta.URL], w, res.Embeddings[i])
		}
		index.Merge(docs)

		report.Results = append(report.Results, dombatch.NewOK(meta.URL, len(docs)))
		log.Debug("Reindexed document", zap.String("url", meta.URL), zap.Int("chunks", len(docs)))
	}

	// Keep the previous index when nothing could be re-embedded.
	if report.Documents() == 0 && firstErr != nil {
		return report, fmt.Errorf("no document reindexed: %w", firstErr)
	}

	if err := index.Save(); err != nil {
		return report, fmt.Errorf("save index: %w", err)
	}
	log.Info("Reindex complete",
		zap.Int("documents", report.Documents()),
		zap.Int("chunks", report.Chunks()),
		zap.Int("skipped", report.Skipped()),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}
