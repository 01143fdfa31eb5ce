package openai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/metrics"
)

const defaultBatchSize = 256

// Config holds the OpenAI-compatible provider settings shared by embedders and chat completers.
// The API key is not part of it: callers supply one per request.
type Config struct {
	BaseURL     string
	Model       string
	Dimensions  int
	BatchSize   int
	Temperature float32
	Timeout     time.Duration
	Logger      *zap.Logger
}

func (c *Config) clientConfig(apiKey string) openai.ClientConfig {
	cc := openai.DefaultConfig(apiKey)
	if c.BaseURL != "" {
		cc.BaseURL = c.BaseURL
	}
	if c.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return cc
}

// EmbedderFactory builds embedders bound to a caller-supplied API key.
type EmbedderFactory struct {
	cfg Config
}

// NewEmbedderFactory creates an embedder factory.
func NewEmbedderFactory(cfg Config) *EmbedderFactory {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &EmbedderFactory{cfg: cfg}
}

// ForKey implements domain.EmbedderFactory.
func (f *EmbedderFactory) ForKey(apiKey string) domain.Embedder {
	return NewEmbedder(apiKey, f.cfg)
}

// Model returns the embedding model name.
func (f *EmbedderFactory) Model() string { return f.cfg.Model }

// Embedder is an embedding provider using the OpenAI API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
	logger     *zap.Logger
}

// NewEmbedder creates an embedder for one API key.
func NewEmbedder(apiKey string, cfg Config) *Embedder {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Embedder{
		client:     openai.NewClientWithConfig(cfg.clientConfig(apiKey)),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
	}
}

// Model returns the embedding model name, used to namespace cache keys.
func (e *Embedder) Model() string { return string(e.model) }

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.create(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(res.Embeddings) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Inputs larger than the batch size
// are split into several API calls; output order always matches input order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		part, err := e.create(ctx, texts[start:end])
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		if len(part.Embeddings) != end-start {
			return domain.BatchEmbeddingResult{}, fmt.Errorf(
				"embedding API returned %d vectors for %d inputs: %w",
				len(part.Embeddings), end-start, domain.ErrEmbeddingProviderError)
		}
		out.Embeddings = append(out.Embeddings, part.Embeddings...)
		out.PromptTokens += part.PromptTokens
		out.TotalTokens += part.TotalTokens
	}
	return out, nil
}

func (e *Embedder) create(ctx context.Context, input []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	model := string(e.model)
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		e.logger.Warn("Embedding request failed", zap.Int("inputs", len(input)), zap.Error(err))
		return domain.BatchEmbeddingResult{}, parseAPIError("embedding", err, domain.ErrEmbeddingProviderError)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(model, "success").Inc()
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(model).Add(float64(resp.Usage.TotalTokens))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = d.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
