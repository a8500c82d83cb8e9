package routing

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signalhub/internal/domain"
	"signalhub/internal/pricing"
	"signalhub/internal/routing/escalation"
)

// Availability reports whether a tier can serve requests right now.
type Availability interface {
	Available(ctx context.Context, model domain.ModelTier) bool
}

// Metrics is a snapshot of the engine's accumulator.
type Metrics struct {
	TotalQueries      int64                        `json:"total_queries"`
	ModelDistribution map[domain.ModelTier]int64   `json:"model_distribution"`
	ModelPercentages  map[domain.ModelTier]float64 `json:"model_percentages"`
	OverrideCount     int64                        `json:"override_count"`
	AverageConfidence float64                      `json:"average_confidence"`
	RuleHits          map[string]int64             `json:"rule_hits"`
}

// Workload parameterizes a cost projection.
type Workload struct {
	DailyRequests     int                          `json:"daily_requests"`
	ModelDistribution map[domain.ModelTier]float64 `json:"model_distribution"` // fractions summing to 1
	AvgInputTokens    int                          `json:"avg_input_tokens"`
	AvgOutputTokens   int                          `json:"avg_output_tokens"`
	CacheHitRate      float64                      `json:"cache_hit_rate"` // fraction in [0,1]
}

// SavingsEstimate is the monthly projection for a workload.
type SavingsEstimate struct {
	MonthlyCostUSD    float64 `json:"monthly_cost_usd"`
	BaselineCostUSD   float64 `json:"baseline_cost_usd"`
	TotalSavingsUSD   float64 `json:"total_savings_usd"`
	RoutingSavingsUSD float64 `json:"routing_savings_usd"`
	CacheSavingsUSD   float64 `json:"cache_savings_usd"`
	SavingsPercent    float64 `json:"savings_percent"`
}

// Engine combines the escalation layer, the rule stack, and availability
// into the final model selection.
type Engine struct {
	escalation   *escalation.Layer
	stack        *Stack
	availability Availability
	calc         *pricing.Calculator
	defaultModel domain.ModelTier
	logger       *slog.Logger

	totalQueries  atomic.Int64
	overrideCount atomic.Int64
	confidenceSum atomic.Int64 // confidence scaled by 1e6
	decided       atomic.Int64 // queries that carried a confidence

	mu           sync.Mutex
	distribution map[domain.ModelTier]int64
}

// NewEngine builds the routing engine.
func NewEngine(esc *escalation.Layer, stack *Stack, availability Availability, calc *pricing.Calculator, defaultModel domain.ModelTier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		escalation:   esc,
		stack:        stack,
		availability: availability,
		calc:         calc,
		defaultModel: defaultModel,
		logger:       logger.With("component", "routing_engine"),
		distribution: make(map[domain.ModelTier]int64),
	}
}

// Route selects a model for the query. The returned query is the input with
// any inline hint stripped from its text.
func (e *Engine) Route(ctx context.Context, q domain.Query, sessionID string) (*domain.ModelSelection, domain.Query) {
	override, text := e.escalation.Resolve(q, sessionID)
	q.Text = text

	if override != nil && e.available(ctx, override.Model) {
		sel := &domain.ModelSelection{
			Model:          override.Model,
			Overridden:     true,
			OverrideSource: override.Source,
			OverrideReason: override.Reason,
			Timestamp:      time.Now(),
		}
		e.record(sel)
		return sel, q
	}
	if override != nil {
		e.logger.Warn("override target unavailable, falling through to rules",
			"model", override.Model, "source", override.Source)
	}

	decision := e.stack.EvaluateAll(q)
	if decision == nil {
		decision = &domain.RoutingDecision{
			Model:      e.defaultModel,
			Reason:     "default model",
			Confidence: 0.5,
		}
	}
	if !e.available(ctx, decision.Model) {
		decision = &domain.RoutingDecision{
			Model:        e.defaultModel,
			Reason:       decision.Reason + " (original unavailable)",
			Confidence:   decision.Confidence,
			RulesApplied: decision.RulesApplied,
			Metadata:     decision.Metadata,
		}
	}

	sel := &domain.ModelSelection{
		Model:     decision.Model,
		Decision:  decision,
		Timestamp: time.Now(),
	}
	e.record(sel)
	return sel, q
}

func (e *Engine) available(ctx context.Context, model domain.ModelTier) bool {
	if e.availability == nil {
		return true
	}
	return e.availability.Available(ctx, model)
}

func (e *Engine) record(sel *domain.ModelSelection) {
	e.totalQueries.Add(1)
	if sel.Overridden {
		e.overrideCount.Add(1)
	}
	if sel.Decision != nil {
		e.confidenceSum.Add(int64(sel.Decision.Confidence * 1e6))
		e.decided.Add(1)
	}
	e.mu.Lock()
	e.distribution[sel.Model]++
	e.mu.Unlock()
}

// Metrics returns a snapshot of the accumulator.
func (e *Engine) Metrics() Metrics {
	total := e.totalQueries.Load()
	m := Metrics{
		TotalQueries:      total,
		ModelDistribution: make(map[domain.ModelTier]int64),
		ModelPercentages:  make(map[domain.ModelTier]float64),
		OverrideCount:     e.overrideCount.Load(),
		RuleHits:          e.stack.RuleHits(),
	}
	e.mu.Lock()
	for tier, n := range e.distribution {
		m.ModelDistribution[tier] = n
		if total > 0 {
			m.ModelPercentages[tier] = float64(n) / float64(total) * 100
		}
	}
	e.mu.Unlock()
	if decided := e.decided.Load(); decided > 0 {
		m.AverageConfidence = float64(e.confidenceSum.Load()) / 1e6 / float64(decided)
	}
	return m
}

// EstimateCostSavings projects a month of the given workload through the
// pricing table against an all-large baseline.
func (e *Engine) EstimateCostSavings(w Workload) (*SavingsEstimate, error) {
	const daysPerMonth = 30
	monthly := float64(w.DailyRequests) * daysPerMonth

	baselinePer, err := e.calc.Baseline(w.AvgInputTokens, w.AvgOutputTokens)
	if err != nil {
		return nil, err
	}
	baseline := baselinePer * monthly

	// Cost with routing but before caching.
	var routedPer float64
	for tier, fraction := range w.ModelDistribution {
		cost, err := e.calc.Cost(tier, w.AvgInputTokens, w.AvgOutputTokens)
		if err != nil {
			return nil, err
		}
		routedPer += cost * fraction
	}
	routed := routedPer * monthly

	// Cache hits cost nothing.
	actual := routed * (1 - w.CacheHitRate)

	est := &SavingsEstimate{
		MonthlyCostUSD:    actual,
		BaselineCostUSD:   baseline,
		TotalSavingsUSD:   baseline - actual,
		RoutingSavingsUSD: baseline - routed,
		CacheSavingsUSD:   routed - actual,
	}
	if baseline > 0 {
		est.SavingsPercent = est.TotalSavingsUSD / baseline * 100
	}
	return est, nil
}
