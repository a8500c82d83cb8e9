package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"signalhub/internal/domain"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider()

	t.Run("all tiers up by default", func(t *testing.T) {
		for _, tier := range domain.AllTiers() {
			if !p.Available(ctx, tier) {
				t.Errorf("tier %s unavailable by default", tier)
			}
		}
	})

	t.Run("completion with token accounting", func(t *testing.T) {
		c, err := p.Complete(ctx, &domain.CompletionRequest{
			Model:  domain.TierSmall,
			Prompt: "what is the capital of france",
		})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if c.Model != domain.TierSmall {
			t.Errorf("model = %s, want small", c.Model)
		}
		if c.InputTokens <= 0 || c.OutputTokens <= 0 {
			t.Errorf("token counts not set: in=%d out=%d", c.InputTokens, c.OutputTokens)
		}
	})

	t.Run("downed tier refuses work", func(t *testing.T) {
		p.SetAvailable(domain.TierLarge, false)
		if p.Available(ctx, domain.TierLarge) {
			t.Error("downed tier reports available")
		}
		_, err := p.Complete(ctx, &domain.CompletionRequest{Model: domain.TierLarge, Prompt: "x"})
		if !errors.Is(err, domain.ErrUnavailable) {
			t.Errorf("want ErrUnavailable, got %v", err)
		}
		p.SetAvailable(domain.TierLarge, true)
		if !p.Available(ctx, domain.TierLarge) {
			t.Error("tier not restored")
		}
	})
}

// probeCounter counts how often the underlying probe runs.
type probeCounter struct {
	*StaticProvider
	probes atomic.Int64
}

func (p *probeCounter) Available(ctx context.Context, model domain.ModelTier) bool {
	p.probes.Add(1)
	return p.StaticProvider.Available(ctx, model)
}

func TestCachedAvailability(t *testing.T) {
	ctx := context.Background()
	inner := &probeCounter{StaticProvider: NewStaticProvider()}
	cached := NewCachedAvailability(inner, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		if !cached.Available(ctx, domain.TierSmall) {
			t.Fatal("tier unavailable")
		}
	}
	if inner.probes.Load() != 1 {
		t.Errorf("probes = %d, want 1 within the TTL", inner.probes.Load())
	}

	time.Sleep(60 * time.Millisecond)
	cached.Available(ctx, domain.TierSmall)
	if inner.probes.Load() != 2 {
		t.Errorf("probes = %d, want a fresh probe after the TTL", inner.probes.Load())
	}

	t.Run("per-tier entries", func(t *testing.T) {
		cached.Available(ctx, domain.TierLarge)
		cached.Available(ctx, domain.TierLarge)
		if inner.probes.Load() != 3 {
			t.Errorf("probes = %d, want one probe for the new tier", inner.probes.Load())
		}
	})
}
