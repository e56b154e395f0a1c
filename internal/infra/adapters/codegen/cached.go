package codegen

import (
	"context"

	"appforge/internal/domain/ports/adapter"
	infraredis "appforge/internal/infra/redis"
)

var _ adapter.CodeGenAdapter = (*CachedAdapter)(nil)

// CachedAdapter serves ListModels from Redis so every worker doesn't hit the
// provider's list endpoint. All other calls pass straight through.
type CachedAdapter struct {
	adapter.CodeGenAdapter
	cache *infraredis.ModelCache
}

func WithModelCache(inner adapter.CodeGenAdapter, cache *infraredis.ModelCache) *CachedAdapter {
	return &CachedAdapter{CodeGenAdapter: inner, cache: cache}
}

func (c *CachedAdapter) ListModels(ctx context.Context) ([]string, error) {
	if models, ok := c.cache.Get(ctx); ok {
		return models, nil
	}
	models, err := c.CodeGenAdapter.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Put(ctx, models)
	return models, nil
}
