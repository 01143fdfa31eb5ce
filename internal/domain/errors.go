package domain

import "errors"

var (
	// ErrNoBackend signals that no vector store has been configured yet.
	ErrNoBackend = errors.New("no database configured")
	// ErrUnknownBackend signals an unsupported backend kind.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrInvalidAPIKey signals a missing or malformed OpenAI API key.
	ErrInvalidAPIKey = errors.New("missing or invalid OpenAI API key")
	// ErrInvalidRequest signals a request that fails validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoContent signals that no scraped tab produced any usable text.
	ErrNoContent = errors.New("no valid content retrieved")
	// ErrNotSupported signals an operation the active backend cannot perform.
	ErrNotSupported = errors.New("not supported by backend")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrChatProviderError signals a chat completion provider failure.
	ErrChatProviderError = errors.New("chat provider error")
	// ErrScrapeFailed signals a scraping provider failure.
	ErrScrapeFailed = errors.New("scrape failed")
	// ErrRateLimited signals a rate limit hit at an upstream provider.
	ErrRateLimited = errors.New("rate limited")
)
