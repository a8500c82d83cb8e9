// Package ledger records model usage and computes cost summaries. Records
// are append-only; correction happens by appending, never by mutation.
package ledger

import (
	"context"
	"time"

	"signalhub/internal/domain"
)

// Store persists usage records.
type Store interface {
	// Append adds one record. Timestamp and ID are assigned by the caller.
	Append(ctx context.Context, rec *domain.ModelUsage) error
	// Range returns records with start <= timestamp < end, oldest first.
	// userID filters when non-empty.
	Range(ctx context.Context, start, end time.Time, userID string) ([]*domain.ModelUsage, error)
	// Recent returns the newest records, newest first, capped at limit.
	Recent(ctx context.Context, limit int, userID string) ([]*domain.ModelUsage, error)
	// TotalCost sums CostUSD over the window.
	TotalCost(ctx context.Context, start, end time.Time) (float64, error)
	// Prune removes records older than the cutoff and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Close releases backend resources.
	Close() error
}

// Summarize aggregates records into a CostSummary for the given window.
// The records are assumed to already lie within the window.
func Summarize(records []*domain.ModelUsage, start, end time.Time) *domain.CostSummary {
	s := &domain.CostSummary{
		PeriodStart:       start,
		PeriodEnd:         end,
		ModelDistribution: make(map[domain.ModelTier]int),
	}
	var latencySum int64
	for _, r := range records {
		s.TotalRequests++
		s.TotalCostUSD += r.CostUSD
		s.TotalSavedUSD += r.SavingsUSD
		if r.CacheHit {
			s.CacheHits++
			s.CacheSavingsUSD += r.SavingsUSD
		} else {
			s.RoutingSavingsUSD += r.SavingsUSD
		}
		s.ModelDistribution[r.Model]++
		latencySum += int64(r.LatencyMs)
	}
	if s.TotalRequests > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalRequests) * 100
		s.AvgLatencyMs = float64(latencySum) / float64(s.TotalRequests)
	}
	// Savings percent is measured against what the workload would have cost
	// without routing or caching.
	baseline := s.TotalCostUSD + s.TotalSavedUSD
	if baseline > 0 {
		s.SavingsPercent = s.TotalSavedUSD / baseline * 100
	}
	return s
}
