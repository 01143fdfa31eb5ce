package embcache

import "github.com/tabrag/tabrag/internal/domain"

// Factory wraps every embedder produced by an inner factory with the cache.
type Factory struct {
	inner domain.EmbedderFactory
	store store
	opts  Options
}

// NewFactory creates a caching embedder factory.
func NewFactory(inner domain.EmbedderFactory, s store, opts Options) *Factory {
	return &Factory{inner: inner, store: s, opts: opts}
}

// ForKey implements domain.EmbedderFactory.
func (f *Factory) ForKey(apiKey string) domain.Embedder {
	return New(f.inner.ForKey(apiKey), f.store, f.opts)
}
