package routing

import (
	"fmt"
	"strings"

	"signalhub/internal/domain"
)

// Default keyword sets. Each is overridable per deployment.
var (
	defaultSimpleKeywords = []string{
		"what", "when", "where", "list", "show", "find", "get", "fetch", "lookup", "display",
	}
	defaultModerateKeywords = []string{
		"explain", "implement", "build", "fix", "why", "how", "write", "create", "update", "convert",
	}
	defaultComplexKeywords = []string{
		"analyze", "design", "refactor", "optimize", "audit", "architect", "migrate", "benchmark", "prove", "debug",
	}
)

// codeFenceTokenThreshold is the estimated token count past which a small
// verdict gets upgraded to medium.
const codeFenceTokenThreshold = 500

// ComplexityRule routes on keyword signals in the query text.
type ComplexityRule struct {
	priority int
	enabled  bool
	simple   map[string]bool
	moderate map[string]bool
	complex  map[string]bool
}

// NewComplexityRule builds a complexity rule. Nil keyword slices take the
// defaults.
func NewComplexityRule(priority int, enabled bool, simple, moderate, complexWords []string) *ComplexityRule {
	if simple == nil {
		simple = defaultSimpleKeywords
	}
	if moderate == nil {
		moderate = defaultModerateKeywords
	}
	if complexWords == nil {
		complexWords = defaultComplexKeywords
	}
	return &ComplexityRule{
		priority: priority,
		enabled:  enabled,
		simple:   toSet(simple),
		moderate: toSet(moderate),
		complex:  toSet(complexWords),
	}
}

func (r *ComplexityRule) Name() string  { return "complexity_based" }
func (r *ComplexityRule) Priority() int { return r.priority }
func (r *ComplexityRule) Enabled() bool { return r.enabled }

func (r *ComplexityRule) Evaluate(q domain.Query) (*domain.RoutingDecision, error) {
	words := tokenize(q.Text)

	var simpleHits, moderateHits, complexHits int
	for w := range words {
		if r.simple[w] {
			simpleHits++
		}
		if r.moderate[w] {
			moderateHits++
		}
		if r.complex[w] {
			complexHits++
		}
	}

	var (
		tier       domain.ModelTier
		confidence float64
		reason     string
	)
	switch {
	case complexHits > 0:
		tier = domain.TierLarge
		confidence = 0.7 + 0.1*float64(complexHits)
		if confidence > 0.9 {
			confidence = 0.9
		}
		reason = "complex"
	case moderateHits > simpleHits:
		tier, confidence, reason = domain.TierMedium, 0.75, "moderate"
	case simpleHits > 0:
		tier, confidence, reason = domain.TierSmall, 0.8, "simple"
	default:
		tier, confidence, reason = domain.TierMedium, 0.5, "no complexity signal"
	}

	// Code blocks or long prompts are never truly simple.
	upgraded := false
	if tier == domain.TierSmall && (strings.Contains(q.Text, "```") || q.EstimatedTokens() > codeFenceTokenThreshold) {
		tier = domain.TierMedium
		confidence *= 0.9
		upgraded = true
	}

	return &domain.RoutingDecision{
		Model:      tier,
		Reason:     fmt.Sprintf("complexity: %s", reason),
		Confidence: confidence,
		Metadata: map[string]any{
			"simple_hits":   simpleHits,
			"moderate_hits": moderateHits,
			"complex_hits":  complexHits,
			"upgraded":      upgraded,
		},
	}, nil
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(w, ".,;:!?\"'()[]{}")] = true
	}
	return out
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}
