package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yunojuno/csp-plus/cache"
	"github.com/yunojuno/csp-plus/metrics"
)

// CacheKey is the cache entry holding the compiled policy.
const CacheKey = "csp::policy"

// DefaultTTL is the policy cache lifetime when none is configured.
const DefaultTTL = time.Hour

// Provider serves the compiled policy through a read-through cache.
// Cache failures are treated as misses; a policy is cached whole or
// not at all.
type Provider struct {
	builder *Builder
	cache   cache.Cache
	ttl     time.Duration
	metrics metrics.Metrics
}

// NewProvider creates a Provider. A ttl of 0 selects DefaultTTL, and a
// nil m selects metrics.Noop.
func NewProvider(builder *Builder, c cache.Cache, ttl time.Duration, m metrics.Metrics) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Provider{builder: builder, cache: c, ttl: ttl, metrics: m}
}

// Get returns the cached policy, rebuilding it at most once on a miss.
func (p *Provider) Get(ctx context.Context) (Policy, error) {
	raw, found, err := p.cache.Get(ctx, CacheKey)
	if err != nil {
		slog.Warn("policy cache read failed, treating as miss", "error", err)
	}
	if found && err == nil {
		var policy Policy
		if err := json.Unmarshal(raw, &policy); err == nil {
			p.metrics.IncCacheHit()
			return policy, nil
		}
		slog.Warn("discarding corrupt cached policy")
	}
	p.metrics.IncCacheMiss()

	policy, err := p.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	p.metrics.IncPolicyRebuild()

	if raw, err := json.Marshal(policy); err == nil {
		if err := p.cache.Set(ctx, CacheKey, raw, p.ttl); err != nil {
			// served from the fresh build; next read rebuilds again
			slog.Warn("policy cache write failed", "error", err)
		}
	}
	return policy, nil
}

// Invalidate drops the cached policy. Wired to the store's change
// notification so every rule or blacklist mutation clears the cache
// synchronously.
func (p *Provider) Invalidate() {
	slog.Debug("clearing CSP cache")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cache.Delete(ctx, CacheKey); err != nil {
		slog.Warn("policy cache invalidation failed", "error", err)
	}
}
