package redis

import (
	"context"
	"encoding/json"
	"time"
)

const modelListKey = "codegen:models"

// ModelCache caches the code-generation provider's model list so the
// orchestrator doesn't hit the provider's list endpoint on every job.
type ModelCache struct {
	cli *Client
	ttl time.Duration
}

func NewModelCache(cli *Client, ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ModelCache{cli: cli, ttl: ttl}
}

func (m *ModelCache) Get(ctx context.Context) ([]string, bool) {
	raw, err := m.cli.Get(ctx, modelListKey)
	if err != nil {
		return nil, false // miss or redis down, caller falls through
	}
	var models []string
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, false
	}
	return models, true
}

func (m *ModelCache) Put(ctx context.Context, models []string) {
	b, err := json.Marshal(models)
	if err != nil {
		return
	}
	_ = m.cli.Set(ctx, modelListKey, string(b), m.ttl)
}

func (m *ModelCache) Invalidate(ctx context.Context) {
	_ = m.cli.Del(ctx, modelListKey)
}
