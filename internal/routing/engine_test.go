package routing

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"signalhub/internal/domain"
	"signalhub/internal/pricing"
	"signalhub/internal/routing/escalation"
)

// tierSet makes only the listed tiers available.
type tierSet map[domain.ModelTier]bool

func (a tierSet) Available(_ context.Context, model domain.ModelTier) bool { return a[model] }

func testCalculator(t *testing.T) *pricing.Calculator {
	t.Helper()
	calc, err := pricing.NewCalculator(pricing.Table{
		domain.TierSmall:  {ID: domain.TierSmall, InputCostPer1M: 0.80, OutputCostPer1M: 4.00},
		domain.TierMedium: {ID: domain.TierMedium, InputCostPer1M: 3.00, OutputCostPer1M: 15.00},
		domain.TierLarge:  {ID: domain.TierLarge, InputCostPer1M: 15.00, OutputCostPer1M: 75.00},
	})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	return calc
}

func testEngine(t *testing.T, avail Availability) (*Engine, *escalation.SessionManager) {
	t.Helper()
	sessions := escalation.NewSessionManager(30 * time.Minute)
	layer := escalation.NewLayer(sessions, true)
	stack := NewStack(nil,
		NewTaskTypeRule(100, true, nil),
		NewComplexityRule(50, true, nil, nil, nil),
		NewLengthRule(10, true, 500, 2000),
	)
	return NewEngine(layer, stack, avail, testCalculator(t), domain.TierMedium, nil), sessions
}

func TestRouteThroughRules(t *testing.T) {
	engine, _ := testEngine(t, nil)

	tests := []struct {
		name     string
		q        domain.Query
		wantTier domain.ModelTier
		wantRule string
	}{
		{"tool name wins", domain.Query{Text: "short", ToolName: "security_audit"}, domain.TierLarge, "task_type"},
		{"complexity next", domain.Query{Text: "analyze and refactor the planner"}, domain.TierLarge, "complexity_based"},
		{"simple stays small", domain.Query{Text: "list the files"}, domain.TierSmall, "complexity_based"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, _ := engine.Route(context.Background(), tt.q, "")
			if sel.Model != tt.wantTier {
				t.Errorf("model = %s, want %s", sel.Model, tt.wantTier)
			}
			if sel.Overridden {
				t.Error("rule-based selection marked overridden")
			}
			if sel.Decision == nil || len(sel.Decision.RulesApplied) == 0 || sel.Decision.RulesApplied[0] != tt.wantRule {
				t.Errorf("decision = %+v, want rule %s", sel.Decision, tt.wantRule)
			}
		})
	}
}

func TestRouteExplicitOverride(t *testing.T) {
	engine, _ := testEngine(t, nil)
	sel, _ := engine.Route(context.Background(),
		domain.Query{Text: "list files", PreferredModel: domain.TierLarge}, "")
	if !sel.Overridden || sel.Model != domain.TierLarge {
		t.Fatalf("selection = %+v, want overridden large", sel)
	}
	if sel.OverrideSource != domain.OverrideExplicit {
		t.Errorf("source = %s, want explicit", sel.OverrideSource)
	}
	if sel.Decision != nil {
		t.Error("overridden selection carries a routing decision")
	}
}

func TestRouteSessionOverride(t *testing.T) {
	engine, sessions := testEngine(t, nil)
	sessions.Escalate("s1", domain.TierLarge, 0, "deep debugging")

	sel, _ := engine.Route(context.Background(), domain.Query{Text: "list files"}, "s1")
	if !sel.Overridden || sel.OverrideSource != domain.OverrideSession {
		t.Fatalf("selection = %+v, want session override", sel)
	}

	// Another session routes normally.
	sel2, _ := engine.Route(context.Background(), domain.Query{Text: "list files"}, "s2")
	if sel2.Overridden {
		t.Error("unrelated session inherited the escalation")
	}
}

func TestRouteInlineHintStripsText(t *testing.T) {
	engine, _ := testEngine(t, nil)
	sel, q := engine.Route(context.Background(), domain.Query{Text: "@large design a cache"}, "")
	if !sel.Overridden || sel.Model != domain.TierLarge || sel.OverrideSource != domain.OverrideInline {
		t.Fatalf("selection = %+v, want inline large", sel)
	}
	if q.Text != "design a cache" {
		t.Errorf("query text = %q, want hint stripped", q.Text)
	}
}

func TestRouteUnavailableOverrideFallsThrough(t *testing.T) {
	engine, _ := testEngine(t, tierSet{domain.TierSmall: true, domain.TierMedium: true})
	sel, _ := engine.Route(context.Background(),
		domain.Query{Text: "list files", PreferredModel: domain.TierLarge}, "")
	if sel.Overridden {
		t.Error("override applied although the target is down")
	}
	if sel.Model != domain.TierSmall {
		t.Errorf("model = %s, want the rules' small tier", sel.Model)
	}
}

func TestRouteUnavailableDecisionFallsBack(t *testing.T) {
	engine, _ := testEngine(t, tierSet{domain.TierMedium: true})
	sel, _ := engine.Route(context.Background(), domain.Query{Text: "analyze and refactor this"}, "")
	if sel.Model != domain.TierMedium {
		t.Errorf("model = %s, want default medium", sel.Model)
	}
	if sel.Decision == nil || !strings.Contains(sel.Decision.Reason, "(original unavailable)") {
		t.Errorf("reason = %q, want unavailable suffix", sel.Decision.Reason)
	}
}

func TestEngineMetrics(t *testing.T) {
	engine, _ := testEngine(t, nil)
	ctx := context.Background()

	engine.Route(ctx, domain.Query{Text: "list the files"}, "")
	engine.Route(ctx, domain.Query{Text: "analyze and refactor this"}, "")
	engine.Route(ctx, domain.Query{Text: "x", PreferredModel: domain.TierLarge}, "")

	m := engine.Metrics()
	if m.TotalQueries != 3 {
		t.Errorf("TotalQueries = %d, want 3", m.TotalQueries)
	}
	if m.OverrideCount != 1 {
		t.Errorf("OverrideCount = %d, want 1", m.OverrideCount)
	}
	if m.ModelDistribution[domain.TierLarge] != 2 {
		t.Errorf("large count = %d, want 2", m.ModelDistribution[domain.TierLarge])
	}
	var pct float64
	for _, p := range m.ModelPercentages {
		pct += p
	}
	if math.Abs(pct-100) > 1e-6 {
		t.Errorf("percentages sum to %v, want 100", pct)
	}
	if m.AverageConfidence <= 0 || m.AverageConfidence > 1 {
		t.Errorf("AverageConfidence = %v, want in (0,1]", m.AverageConfidence)
	}
	if m.RuleHits["complexity_based"] != 2 {
		t.Errorf("rule hits = %v, want complexity_based:2", m.RuleHits)
	}
}

func TestEstimateCostSavings(t *testing.T) {
	engine, _ := testEngine(t, nil)

	est, err := engine.EstimateCostSavings(Workload{
		DailyRequests: 1000,
		ModelDistribution: map[domain.ModelTier]float64{
			domain.TierSmall:  0.5,
			domain.TierMedium: 0.3,
			domain.TierLarge:  0.2,
		},
		AvgInputTokens:  1000,
		AvgOutputTokens: 500,
		CacheHitRate:    0.3,
	})
	if err != nil {
		t.Fatalf("EstimateCostSavings: %v", err)
	}

	// Baseline per request: 1000/1e6*15 + 500/1e6*75 = 0.0525; 30k requests.
	wantBaseline := 0.0525 * 30000
	if math.Abs(est.BaselineCostUSD-wantBaseline) > 1e-6 {
		t.Errorf("BaselineCostUSD = %v, want %v", est.BaselineCostUSD, wantBaseline)
	}
	if est.MonthlyCostUSD >= est.BaselineCostUSD {
		t.Error("routed+cached cost not below baseline")
	}
	if math.Abs(est.TotalSavingsUSD-(est.RoutingSavingsUSD+est.CacheSavingsUSD)) > 1e-6 {
		t.Error("savings split does not sum to total")
	}
	if est.SavingsPercent <= 0 || est.SavingsPercent >= 100 {
		t.Errorf("SavingsPercent = %v, want in (0,100)", est.SavingsPercent)
	}

	t.Run("unknown tier in distribution", func(t *testing.T) {
		_, err := engine.EstimateCostSavings(Workload{
			DailyRequests:     10,
			ModelDistribution: map[domain.ModelTier]float64{"giant": 1},
			AvgInputTokens:    100,
			AvgOutputTokens:   100,
		})
		if err == nil {
			t.Error("want error for unknown tier")
		}
	})
}
