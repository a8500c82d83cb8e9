package provider

import (
	"context"
	"fmt"
	"sync"

	"signalhub/internal/domain"
)

// StaticProvider is a deterministic in-process provider for development and
// tests. Every tier is available unless marked down, and completions echo a
// canned response with synthetic token accounting.
type StaticProvider struct {
	mu   sync.Mutex
	down map[domain.ModelTier]bool
}

// NewStaticProvider returns a provider with all tiers up.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{down: make(map[domain.ModelTier]bool)}
}

// SetAvailable flips a tier up or down.
func (p *StaticProvider) SetAvailable(model domain.ModelTier, up bool) {
	p.mu.Lock()
	p.down[model] = !up
	p.mu.Unlock()
}

func (p *StaticProvider) Available(_ context.Context, model domain.ModelTier) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.down[model]
}

func (p *StaticProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	if !p.Available(ctx, req.Model) {
		return nil, fmt.Errorf("%w: model %s is down", domain.ErrUnavailable, req.Model)
	}
	content := fmt.Sprintf("[%s] %s", req.Model, req.Prompt)
	return &domain.Completion{
		Content:      content,
		Model:        req.Model,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(content) / 4,
	}, nil
}
