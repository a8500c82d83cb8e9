package routing

import (
	"fmt"

	"signalhub/internal/domain"
)

// LengthRule routes on raw prompt length. Short prompts rarely need an
// expensive model.
type LengthRule struct {
	priority        int
	enabled         bool
	smallThreshold  int
	mediumThreshold int
}

// NewLengthRule builds a length rule. Zero thresholds take the defaults
// (500 and 2000 characters).
func NewLengthRule(priority int, enabled bool, smallThreshold, mediumThreshold int) *LengthRule {
	if smallThreshold <= 0 {
		smallThreshold = 500
	}
	if mediumThreshold <= 0 {
		mediumThreshold = 2000
	}
	return &LengthRule{
		priority:        priority,
		enabled:         enabled,
		smallThreshold:  smallThreshold,
		mediumThreshold: mediumThreshold,
	}
}

func (r *LengthRule) Name() string  { return "length_based" }
func (r *LengthRule) Priority() int { return r.priority }
func (r *LengthRule) Enabled() bool { return r.enabled }

func (r *LengthRule) Evaluate(q domain.Query) (*domain.RoutingDecision, error) {
	length := q.LengthChars()
	var (
		tier       domain.ModelTier
		confidence float64
	)
	switch {
	case length <= r.smallThreshold:
		tier, confidence = domain.TierSmall, 0.9
	case length <= r.mediumThreshold:
		tier, confidence = domain.TierMedium, 0.85
	default:
		tier, confidence = domain.TierLarge, 0.80
	}
	return &domain.RoutingDecision{
		Model:      tier,
		Reason:     fmt.Sprintf("query length %d chars", length),
		Confidence: confidence,
		Metadata: map[string]any{
			"length":           length,
			"small_threshold":  r.smallThreshold,
			"medium_threshold": r.mediumThreshold,
		},
	}, nil
}
