// Package chat answers questions about ingested tabs with retrieval-augmented generation.
package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/logger"
)

// Prompt fragments.
const (
	SystemPrompt = "You are a helpful assistant that answers based on given context."
	NoResults    = "No relevant information found for this tab."
	promptFormat = "Answer concisely based on the following context (from this tab only):\n%s\n\nQuestion: %s"
)

// Retrieval defaults.
const (
	DefaultTopK         = 10
	DefaultFallbackTopK = 5
	defaultKeyPrefix    = "sk-"
)

// Question is one chat request.
type Question struct {
	Text   string
	APIKey string
	// URL restricts context to chunks of one tab when set.
	URL string
}

// Service retrieves context and asks the chat model.
type Service struct {
	index        Index
	stores       StoreProvider
	embedders    domain.EmbedderFactory
	chats        domain.ChatFactory
	topK         int
	fallbackTopK int
	keyPrefix    string
	logger       *zap.Logger
}

// New creates a chat service.
func New(
	index Index, stores StoreProvider,
	embedders domain.EmbedderFactory, chats domain.ChatFactory, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:        index,
		stores:       stores,
		embedders:    embedders,
		chats:        chats,
		topK:         DefaultTopK,
		fallbackTopK: DefaultFallbackTopK,
		keyPrefix:    defaultKeyPrefix,
		logger:       logger,
	}
}

// WithTopK configures index and store fallback retrieval sizes.
func (s *Service) WithTopK(topK, fallbackTopK int) *Service {
	if topK > 0 {
		s.topK = topK
	}
	if fallbackTopK > 0 {
		s.fallbackTopK = fallbackTopK
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

// Ask answers q from the closest chunks. Retrieval order: index hits for the
// tab, all index hits, then the store's own similarity search.
func (s *Service) Ask(ctx context.Context, q Question) (string, error) {
	log := logger.FromContext(ctx, s.logger)

	question := strings.TrimSpace(q.Text)
	if question == "" {
		return "", fmt.Errorf("question required: %w", domain.ErrInvalidRequest)
	}
	if err := domain.ValidateAPIKey(q.APIKey, s.keyPrefix); err != nil {
		return "", err
	}
	store, _, err := s.stores.Current()
	if err != nil {
		return "", err
	}

	emb, err := s.embedders.ForKey(q.APIKey).Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}
	domain.UsageFromContext(ctx).Add(emb.TotalTokens)

	hits, err := s.retrieve(ctx, log, store, emb.Embedding, q.URL)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return NoResults, nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	prompt := fmt.Sprintf(promptFormat, strings.Join(texts, "\n\n"), question)

	answer, err := s.chats.ForKey(q.APIKey).Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (s *Service) retrieve(
	ctx context.Context, log *zap.Logger, store domain.VectorStore, query []float32, url string,
) ([]ranking.Scored, error) {
	all := withoutPlaceholders(s.index.Search(query, s.topK))

	hits := all
	if url != "" {
		hits = filterByURL(all, url)
		if len(hits) == 0 {
			log.Debug("No tab-specific index results, using all index results", zap.String("url", url))
			hits = all
		}
	}
	if len(hits) > 0 {
		return hits, nil
	}

	searcher, ok := store.(domain.SimilaritySearcher)
	if !ok {
		return nil, nil
	}
	log.Info("Index empty, falling back to backend similarity search")
	fallback, err := searcher.SimilaritySearch(ctx, query, s.fallbackTopK)
	if err != nil {
		return nil, fmt.Errorf("backend similarity search: %w", err)
	}
	return withoutPlaceholders(fallback), nil
}

func filterByURL(hits []ranking.Scored, url string) []ranking.Scored {
	var out []ranking.Scored
	for _, h := range hits {
		if domain.MetaString(h.Metadata, domain.MetaURL) == url {
			out = append(out, h)
		}
	}
	return out
}

func withoutPlaceholders(hits []ranking.Scored) []ranking.Scored {
	out := hits[:0:0]
	for _, h := range hits {
		if !domain.IsPlaceholder(h.Text, h.Metadata) {
			out = append(out, h)
		}
	}
	return out
}
