package domain

import "context"

type embeddingUsageKey struct{}

// EmbeddingUsage accumulates embedding token usage for a single HTTP request.
// Handlers seed it into the context and report the total in the
// X-Embedding-Tokens response header; services add to it after each embed.
type EmbeddingUsage struct {
	TotalTokens int
	Calls       int
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext returns the request's usage collector, or nil.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Add records one embedding call. Safe on a nil receiver.
func (u *EmbeddingUsage) Add(tokens int) {
	if u == nil {
		return
	}
	u.TotalTokens += tokens
	u.Calls++
}
