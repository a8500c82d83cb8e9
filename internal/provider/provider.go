// Package provider implements the model backends queries are dispatched to.
package provider

import (
	"context"
	"sync"
	"time"

	"signalhub/internal/domain"
)

// ModelProvider serves completions for the configured tiers.
type ModelProvider interface {
	// Available reports whether the tier can serve requests right now.
	// Probe errors count as unavailable.
	Available(ctx context.Context, model domain.ModelTier) bool
	// Complete runs one completion.
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error)
}

// probeTTL is how long an availability answer stays fresh.
const probeTTL = 30 * time.Second

// CachedAvailability memoizes availability probes so routing does not hit
// the provider API on every query.
type CachedAvailability struct {
	inner ModelProvider
	ttl   time.Duration

	mu      sync.Mutex
	results map[domain.ModelTier]probeResult
}

type probeResult struct {
	available bool
	checkedAt time.Time
}

// NewCachedAvailability wraps inner with a probe cache. A zero ttl takes
// the default.
func NewCachedAvailability(inner ModelProvider, ttl time.Duration) *CachedAvailability {
	if ttl <= 0 {
		ttl = probeTTL
	}
	return &CachedAvailability{
		inner:   inner,
		ttl:     ttl,
		results: make(map[domain.ModelTier]probeResult),
	}
}

func (c *CachedAvailability) Available(ctx context.Context, model domain.ModelTier) bool {
	c.mu.Lock()
	if r, ok := c.results[model]; ok && time.Since(r.checkedAt) < c.ttl {
		c.mu.Unlock()
		return r.available
	}
	c.mu.Unlock()

	available := c.inner.Available(ctx, model)

	c.mu.Lock()
	c.results[model] = probeResult{available: available, checkedAt: time.Now()}
	c.mu.Unlock()
	return available
}

func (c *CachedAvailability) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	return c.inner.Complete(ctx, req)
}
