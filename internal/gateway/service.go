// Package gateway runs the full query pipeline: routing, cache lookup,
// model dispatch, cache store, and ledger accounting.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"signalhub/internal/cache/semantic"
	"signalhub/internal/domain"
	"signalhub/internal/ledger"
	"signalhub/internal/pricing"
	"signalhub/internal/provider"
	"signalhub/internal/routing"
	"signalhub/internal/telemetry"

	"github.com/google/uuid"
)

// Response is what the tool surface returns for one query.
type Response struct {
	Content       string           `json:"content"`
	Model         domain.ModelTier `json:"model"`
	Cached        bool             `json:"cached"`
	Similarity    float64          `json:"similarity,omitempty"`
	Overridden    bool             `json:"overridden"`
	RoutingReason string           `json:"routing_reason"`
	CostUSD       float64          `json:"cost_usd"`
	SavingsUSD    float64          `json:"savings_usd"`
	LatencyMs     int              `json:"latency_ms"`
}

// cachedPayload is the JSON shape stored in the cache.
type cachedPayload struct {
	Content      string           `json:"content"`
	Model        domain.ModelTier `json:"model"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
}

// Service is the hub's query pipeline.
type Service struct {
	engine       *routing.Engine
	cache        *semantic.Cache
	cacheEnabled bool
	provider     provider.ModelProvider
	store        ledger.Store
	calc         *pricing.Calculator
	metrics      *telemetry.Metrics
	logger       *slog.Logger

	ledgerFailures atomic.Int64
}

// New wires the pipeline. cache may be nil when caching is disabled.
func New(engine *routing.Engine, cache *semantic.Cache, prov provider.ModelProvider, store ledger.Store, calc *pricing.Calculator, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:       engine,
		cache:        cache,
		cacheEnabled: cache != nil,
		provider:     prov,
		store:        store,
		calc:         calc,
		metrics:      metrics,
		logger:       logger.With("component", "gateway"),
	}
}

// LedgerFailures reports how many usage records could not be written.
func (s *Service) LedgerFailures() int64 { return s.ledgerFailures.Load() }

// Handle runs one query through the pipeline.
func (s *Service) Handle(ctx context.Context, q domain.Query, sessionID string) (*Response, error) {
	start := time.Now()

	sel, routed := s.engine.Route(ctx, q, sessionID)
	reason := routingReason(sel)

	if s.cacheEnabled {
		if resp, ok := s.serveFromCache(ctx, routed, sel, reason, start); ok {
			return resp, nil
		}
	}

	completion, err := s.provider.Complete(ctx, &domain.CompletionRequest{
		Model:  sel.Model,
		Prompt: routed.Text,
	})
	if err != nil {
		s.metrics.RequestsTotal.WithLabelValues(string(sel.Model), string(domain.ClassifyError(err))).Inc()
		return nil, err
	}

	cost, costErr := s.calc.Cost(sel.Model, completion.InputTokens, completion.OutputTokens)
	if costErr != nil {
		// An unpriced model is accounted at the baseline rate rather than
		// silently for free.
		cost, _ = s.calc.Baseline(completion.InputTokens, completion.OutputTokens)
		s.logger.Warn("cost fell back to baseline pricing", "model", sel.Model, "error", costErr)
	}
	savings, _ := s.calc.Savings(sel.Model, completion.InputTokens, completion.OutputTokens)

	if s.cacheEnabled {
		payload, err := json.Marshal(cachedPayload{
			Content:      completion.Content,
			Model:        sel.Model,
			InputTokens:  completion.InputTokens,
			OutputTokens: completion.OutputTokens,
		})
		if err == nil {
			if _, err := s.cache.Store(ctx, routed.Text, payload, sel.Model, routed.Context); err != nil {
				s.logger.Warn("cache store failed", "error", err)
			}
		}
	}

	latency := int(time.Since(start).Milliseconds())
	s.appendUsage(ctx, &domain.ModelUsage{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Model:         sel.Model,
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		CostUSD:       cost,
		SavingsUSD:    savings,
		RoutingReason: reason,
		LatencyMs:     latency,
		ToolName:      routed.ToolName,
		UserID:        routed.UserID,
	})

	s.observe(sel, reason, cost, latency, false)
	return &Response{
		Content:       completion.Content,
		Model:         sel.Model,
		Overridden:    sel.Overridden,
		RoutingReason: reason,
		CostUSD:       cost,
		SavingsUSD:    savings,
		LatencyMs:     latency,
	}, nil
}

func (s *Service) serveFromCache(ctx context.Context, q domain.Query, sel *domain.ModelSelection, reason string, start time.Time) (*Response, bool) {
	entry, similarity, ok := s.cache.Lookup(ctx, q.Text, q.Context)
	if !ok {
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	s.metrics.CacheLookups.WithLabelValues("hit").Inc()

	var payload cachedPayload
	if err := json.Unmarshal(entry.Response, &payload); err != nil {
		s.logger.Warn("cached payload undecodable, treating as miss", "id", entry.ID, "error", err)
		return nil, false
	}

	// What the hit would have cost on the entry's model is what it saved.
	saved, _ := s.calc.Cost(entry.Model, payload.InputTokens, payload.OutputTokens)
	s.metrics.CacheSavedUSD.Add(saved)

	latency := int(time.Since(start).Milliseconds())
	s.appendUsage(ctx, &domain.ModelUsage{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Model:         entry.Model,
		CostUSD:       0,
		SavingsUSD:    saved,
		RoutingReason: reason,
		CacheHit:      true,
		LatencyMs:     latency,
		ToolName:      q.ToolName,
		UserID:        q.UserID,
	})

	s.observe(sel, reason, 0, latency, true)
	return &Response{
		Content:       payload.Content,
		Model:         entry.Model,
		Cached:        true,
		Similarity:    similarity,
		Overridden:    sel.Overridden,
		RoutingReason: reason,
		SavingsUSD:    saved,
		LatencyMs:     latency,
	}, true
}

// appendUsage writes one ledger record. Failures are logged and counted but
// never retried and never fail the request.
func (s *Service) appendUsage(ctx context.Context, rec *domain.ModelUsage) {
	if err := s.store.Append(ctx, rec); err != nil {
		s.ledgerFailures.Add(1)
		s.metrics.LedgerAppendFailures.Inc()
		s.logger.Error("ledger append failed", "record_id", rec.ID, "error", err)
	}
}

func (s *Service) observe(sel *domain.ModelSelection, reason string, cost float64, latencyMs int, cached bool) {
	model := string(sel.Model)
	s.metrics.RequestsTotal.WithLabelValues(model, string(domain.OutcomeOK)).Inc()
	s.metrics.RequestDuration.WithLabelValues(model).Observe(float64(latencyMs) / 1000)
	s.metrics.CostUSDTotal.WithLabelValues(model).Add(cost)

	if sel.Overridden {
		s.metrics.OverridesTotal.WithLabelValues(string(sel.OverrideSource)).Inc()
		s.metrics.RoutingDecisions.WithLabelValues(model, "override").Inc()
		return
	}
	rule := "default"
	if sel.Decision != nil && len(sel.Decision.RulesApplied) > 0 {
		rule = sel.Decision.RulesApplied[0]
	}
	s.metrics.RoutingDecisions.WithLabelValues(model, rule).Inc()
}

func routingReason(sel *domain.ModelSelection) string {
	if sel.Overridden {
		return string(sel.OverrideSource) + ": " + sel.OverrideReason
	}
	if sel.Decision != nil {
		return sel.Decision.Reason
	}
	return "default model"
}

// Summary aggregates ledger records over the trailing window.
func (s *Service) Summary(ctx context.Context, window time.Duration, userID string) (*domain.CostSummary, error) {
	end := time.Now()
	start := end.Add(-window)
	records, err := s.store.Range(ctx, start, end, userID)
	if err != nil {
		return nil, err
	}
	return ledger.Summarize(records, start, end), nil
}

// Recent returns the newest usage records.
func (s *Service) Recent(ctx context.Context, limit int, userID string) ([]*domain.ModelUsage, error) {
	return s.store.Recent(ctx, limit, userID)
}
