package embed

import (
	"context"
	"time"

	"github.com/ppiankov/sentinel/internal/cache"
	"github.com/ppiankov/sentinel/internal/vector"
)

// CachedEmbedder memoizes embeddings by model and text
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner with c
func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl}
}

// Model returns the wrapped model name
func (e *CachedEmbedder) Model() string {
	return e.inner.Model()
}

// Embed returns a cached vector or computes and stores a new one
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("embedding", e.inner.Model(), text)
	if raw, ok := e.cache.Get(ctx, key); ok && len(raw)%4 == 0 && len(raw) > 0 {
		return vector.Unpack(raw), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = e.cache.Set(ctx, key, vector.Pack(vec), e.ttl)
	return vec, nil
}
