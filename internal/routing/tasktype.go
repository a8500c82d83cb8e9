package routing

import (
	"fmt"
	"strings"

	"signalhub/internal/domain"

	"github.com/agnivade/levenshtein"
)

// defaultTaskMapping maps tool names to tiers. Cheap retrieval tools go
// small, explanation goes medium, whole-system analysis goes large.
func defaultTaskMapping() map[string]domain.ModelTier {
	return map[string]domain.ModelTier{
		"search_code":          domain.TierSmall,
		"find_similar":         domain.TierSmall,
		"explain_code":         domain.TierMedium,
		"get_context":          domain.TierMedium,
		"analyze_architecture": domain.TierLarge,
		"refactor_code":        domain.TierLarge,
		"security_audit":       domain.TierLarge,
	}
}

// fuzzyMatchMaxDistance tolerates small misspellings of tool names, e.g.
// "serch_code".
const fuzzyMatchMaxDistance = 2

// TaskTypeRule routes by the tool a query arrived through.
type TaskTypeRule struct {
	priority int
	enabled  bool
	mapping  map[string]domain.ModelTier
}

// NewTaskTypeRule builds a task-type rule. A nil mapping takes the default.
func NewTaskTypeRule(priority int, enabled bool, mapping map[string]domain.ModelTier) *TaskTypeRule {
	if mapping == nil {
		mapping = defaultTaskMapping()
	}
	return &TaskTypeRule{priority: priority, enabled: enabled, mapping: mapping}
}

func (r *TaskTypeRule) Name() string  { return "task_type" }
func (r *TaskTypeRule) Priority() int { return r.priority }
func (r *TaskTypeRule) Enabled() bool { return r.enabled }

func (r *TaskTypeRule) Evaluate(q domain.Query) (*domain.RoutingDecision, error) {
	if q.ToolName == "" {
		return nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(q.ToolName))

	tier, matched := r.mapping[name]
	matchedName := name
	if !matched {
		matchedName, tier, matched = r.fuzzyMatch(name)
	}
	if !matched {
		return nil, nil
	}
	return &domain.RoutingDecision{
		Model:      tier,
		Reason:     fmt.Sprintf("task type %s", matchedName),
		Confidence: 0.95,
		Metadata: map[string]any{
			"tool_name": q.ToolName,
			"matched":   matchedName,
		},
	}, nil
}

func (r *TaskTypeRule) fuzzyMatch(name string) (string, domain.ModelTier, bool) {
	best := fuzzyMatchMaxDistance + 1
	var (
		bestName string
		bestTier domain.ModelTier
	)
	for candidate, tier := range r.mapping {
		if d := levenshtein.ComputeDistance(name, candidate); d < best {
			best = d
			bestName = candidate
			bestTier = tier
		}
	}
	return bestName, bestTier, best <= fuzzyMatchMaxDistance
}
