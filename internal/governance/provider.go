package governance

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/cache"
)

// CachedProvider memoizes another Provider per tenant. A call loads its
// configuration once at session creation, so a cached entry only affects
// calls that start while it is live.
type CachedProvider struct {
	next  Provider
	cache *cache.Sharded[*Config]
}

// NewCachedProvider wraps next with a ttl-bounded cache. Build one per
// process; see cache.New.
func NewCachedProvider(next Provider, ttl time.Duration, shards int) *CachedProvider {
	return &CachedProvider{
		next:  next,
		cache: cache.New[*Config](cache.Options{Name: "tenant_config", TTL: ttl, Shards: shards}),
	}
}

// Load returns the cached configuration or loads it. Errors are not cached.
func (p *CachedProvider) Load(ctx context.Context, tenantID string) (*Config, error) {
	if cfg, ok := p.cache.Get(tenantID); ok {
		return cfg, nil
	}
	cfg, err := p.next.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	p.cache.Set(tenantID, cfg)
	return cfg, nil
}

// Invalidate drops the tenant's cached configuration.
func (p *CachedProvider) Invalidate(tenantID string) {
	p.cache.Delete(tenantID)
}

// InvalidateAll drops every cached configuration.
func (p *CachedProvider) InvalidateAll() {
	p.cache.Purge()
}

// Sources returns the tenant's knowledge source descriptors in declaration
// order. It lets the cascade resolve sources through the same cache.
func (p *CachedProvider) Sources(ctx context.Context, tenantID string) ([]SourceDescriptor, error) {
	cfg, err := p.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return cfg.Sources, nil
}
