// Package routing decides which model tier serves a query, via a
// prioritized rule stack with escalation overrides on top.
package routing

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"signalhub/internal/domain"
)

// Rule examines a query and proposes a tier, or nil when it has no opinion.
type Rule interface {
	Name() string
	Priority() int
	Enabled() bool
	Evaluate(q domain.Query) (*domain.RoutingDecision, error)
}

// maxConsecutiveFailures is how many times in a row a rule may error before
// it is disabled for the rest of the process lifetime.
const maxConsecutiveFailures = 3

// Stack evaluates rules in descending priority and returns the first
// decision. Rule errors and panics are contained per rule.
type Stack struct {
	logger *slog.Logger

	mu       sync.Mutex
	rules    []Rule
	failures map[string]int
	disabled map[string]bool
	hits     map[string]int64
}

// NewStack returns a stack over the given rules, sorted by priority
// descending.
func NewStack(logger *slog.Logger, rules ...Rule) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	return &Stack{
		logger:   logger.With("component", "rule_stack"),
		rules:    sorted,
		failures: make(map[string]int),
		disabled: make(map[string]bool),
		hits:     make(map[string]int64),
	}
}

// EvaluateAll runs the stack and returns the first non-nil decision, or nil
// when no rule matches.
func (s *Stack) EvaluateAll(q domain.Query) *domain.RoutingDecision {
	s.mu.Lock()
	rules := make([]Rule, len(s.rules))
	copy(rules, s.rules)
	s.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled() || s.isDisabled(rule.Name()) {
			continue
		}
		decision, err := s.evaluateOne(rule, q)
		if err != nil {
			s.recordFailure(rule.Name(), err)
			continue
		}
		s.recordSuccess(rule.Name())
		if decision != nil {
			s.mu.Lock()
			s.hits[rule.Name()]++
			s.mu.Unlock()
			decision.RulesApplied = append(decision.RulesApplied, rule.Name())
			return decision
		}
	}
	return nil
}

// RuleHits returns per-rule decision counts.
func (s *Stack) RuleHits() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.hits))
	for k, v := range s.hits {
		out[k] = v
	}
	return out
}

func (s *Stack) evaluateOne(rule Rule, q domain.Query) (decision *domain.RoutingDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(q)
}

func (s *Stack) isDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[name]
}

func (s *Stack) recordFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name]++
	if s.failures[name] >= maxConsecutiveFailures && !s.disabled[name] {
		s.disabled[name] = true
		s.logger.Error("rule disabled after repeated failures", "rule", name, "failures", s.failures[name], "error", err)
		return
	}
	s.logger.Warn("rule evaluation failed", "rule", name, "error", err)
}

func (s *Stack) recordSuccess(name string) {
	s.mu.Lock()
	s.failures[name] = 0
	s.mu.Unlock()
}
