// Package ingest scrapes submitted tabs, embeds their chunks and stores them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	dombatch "github.com/tabrag/tabrag/internal/domain/batch"
	"github.com/tabrag/tabrag/internal/logger"
	"github.com/tabrag/tabrag/internal/metrics"
)

// DefaultKeyPrefix is the expected OpenAI key prefix.
const DefaultKeyPrefix = "sk-"

// MsgAllExist is reported when every submitted tab is already stored.
const MsgAllExist = "All tabs already exist."

// Report summarizes an ingest run with one result per submitted tab.
type Report struct {
	dombatch.Report
	Message string
}

// Tabs returns how many new tabs produced chunks.
func (r Report) Tabs() int { return r.Count(dombatch.StatusOK) }

// Skipped returns how many tabs were already stored.
func (r Report) Skipped() int { return r.Count(dombatch.StatusSkipped) }

// Chunks returns how many chunks the new tabs produced.
func (r Report) Chunks() int { return r.TotalChunks() }

// Service runs the ingest pipeline.
type Service struct {
	stores    StoreProvider
	scraper   Scraper
	chunker   Chunker
	embedders domain.EmbedderFactory
	index     IndexWriter
	keyPrefix string
	logger    *zap.Logger
}

// New creates an ingest service.
func New(
	stores StoreProvider, scraper Scraper, chunker Chunker,
	embedders domain.EmbedderFactory, index IndexWriter, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stores:    stores,
		scraper:   scraper,
		chunker:   chunker,
		embedders: embedders,
		index:     index,
		keyPrefix: DefaultKeyPrefix,
		logger:    logger,
	}
}

// WithKeyPrefix configures the accepted API key prefix.
func (s *Service) WithKeyPrefix(prefix string) *Service {
	if prefix != "" {
		s.keyPrefix = prefix
	}
	return s
}

// Ingest scrapes, chunks and embeds every tab not yet stored, then saves all
// chunks to the active store and the file index. Per-tab failures are reported
// in the results; the call fails only when no tab produced content.
func (s *Service) Ingest(ctx context.Context, apiKey string, tabs []domain.Tab) (Report, error) {
	log := logger.FromContext(ctx, s.logger)

	if err := domain.ValidateAPIKey(apiKey, s.keyPrefix); err != nil {
		return Report{}, err
	}
	if len(tabs) == 0 {
		return Report{}, fmt.Errorf("docs must be a non-empty array: %w", domain.ErrInvalidRequest)
	}
	store, _, err := s.stores.Current()
	if err != nil {
		return Report{}, err
	}

	existing, err := s.existingURLs(ctx, store, log)
	if err != nil {
		return Report{}, err
	}

	var report Report
	var fresh []domain.Tab
	for _, tab := range tabs {
		tab.URL = strings.TrimSpace(tab.URL)
		if tab.URL == "" {
			report.Results = append(report.Results,
				dombatch.NewError(tab.URL, fmt.Errorf("url is required: %w", domain.ErrInvalidRequest)))
			metrics.IngestTabsTotal.WithLabelValues(string(dombatch.StatusError)).Inc()
			continue
		}
		if _, dup := existing[tab.URL]; dup {
			report.Results = append(report.Results, dombatch.NewSkipped(tab.URL))
			metrics.IngestTabsTotal.WithLabelValues(string(dombatch.StatusSkipped)).Inc()
			continue
		}
		existing[tab.URL] = struct{}{}
		fresh = append(fresh, tab)
	}

	if len(fresh) == 0 && report.Skipped() > 0 {
		report.Message = MsgAllExist
		return report, nil
	}

	embedder := s.embedders.ForKey(apiKey)
	var docs []domain.Document
	for _, tab := range fresh {
		tabDocs, err := s.processTab(ctx, embedder, tab)
		if err != nil {
			log.Warn("Tab ingest failed", zap.String("url", tab.URL), zap.Error(err))
			report.Results = append(report.Results, dombatch.NewError(tab.URL, err))
			metrics.IngestTabsTotal.WithLabelValues(string(dombatch.StatusError)).Inc()
			continue
		}
		docs = append(docs, tabDocs...)
		report.Results = append(report.Results, dombatch.NewOK(tab.URL, len(tabDocs)))
		metrics.IngestTabsTotal.WithLabelValues(string(dombatch.StatusOK)).Inc()
	}

	if len(docs) == 0 {
		return report, domain.ErrNoContent
	}

	if err := store.AddDocuments(ctx, docs); err != nil {
		return report, fmt.Errorf("save documents: %w", err)
	}
	metrics.IngestChunksTotal.Add(float64(len(docs)))

	s.index.Merge(docs)
	if err := s.index.Save(); err != nil {
		log.Error("Failed to save file index", zap.Error(err))
	}

	report.Message = fmt.Sprintf("Saved %d chunks from %d new tabs.", report.Chunks(), report.Tabs())
	log.Info("Ingest completed",
		zap.Int("tabs", report.Tabs()),
		zap.Int("chunks", report.Chunks()),
		zap.Int("skipped", report.Skipped()),
	)
	return report, nil
}

// existingURLs collects the url metadata of stored chunks. Backends that
// cannot list documents disable deduplication.
func (s *Service) existingURLs(ctx context.Context, store domain.VectorStore, log *zap.Logger) (map[string]struct{}, error) {
	urls := make(map[string]struct{})
	stored, err := store.AllDocuments(ctx)
	if errors.Is(err, domain.ErrNotSupported) {
		log.Warn("Backend cannot list documents, skipping duplicate detection", zap.Error(err))
		return urls, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load existing documents: %w", err)
	}
	for _, c := range stored {
		if u := domain.MetaString(c.Metadata, domain.MetaURL); u != "" {
			urls[u] = struct{}{}
		}
	}
	return urls, nil
}

func (s *Service) processTab(ctx context.Context, embedder domain.Embedder, tab domain.Tab) ([]domain.Document, error) {
	markdown, err := s.scraper.Scrape(ctx, tab.URL)
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}

	chunks := s.chunker.Split(markdown)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("page produced no chunks: %w", domain.ErrNoContent)
	}

	res, err := domain.EmbedAll(ctx, embedder, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	domain.UsageFromContext(ctx).Add(res.TotalTokens)

	docs := make([]domain.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = domain.NewChunkDocument(tab, i+1, chunk, res.Embeddings[i])
	}
	return docs, nil
}
