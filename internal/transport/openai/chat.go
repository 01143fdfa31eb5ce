package openai

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/metrics"
)

// ChatFactory builds chat completers bound to a caller-supplied API key.
type ChatFactory struct {
	cfg Config
}

// NewChatFactory creates a chat completer factory.
func NewChatFactory(cfg Config) *ChatFactory {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ChatFactory{cfg: cfg}
}

// ForKey implements domain.ChatFactory.
func (f *ChatFactory) ForKey(apiKey string) domain.ChatCompleter {
	return NewChat(apiKey, f.cfg)
}

// Chat answers questions through the chat completions API.
type Chat struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewChat creates a chat completer for one API key.
func NewChat(apiKey string, cfg Config) *Chat {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Chat{
		client:      openai.NewClientWithConfig(cfg.clientConfig(apiKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Complete implements domain.ChatCompleter.
func (c *Chat) Complete(ctx context.Context, system, user string) (string, error) {
	temp := c.temperature
	if temp == 0 {
		// go-openai omits a zero temperature, which the API reads as 1.
		temp = math.SmallestNonzeroFloat32
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(c.model, "error").Inc()
		c.logger.Warn("Chat completion failed", zap.String("model", c.model), zap.Error(err))
		return "", parseAPIError("chat", err, domain.ErrChatProviderError)
	}
	if len(resp.Choices) == 0 {
		metrics.ChatRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("empty chat response: %w", domain.ErrChatProviderError)
	}

	metrics.ChatRequestsTotal.WithLabelValues(c.model, "success").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
