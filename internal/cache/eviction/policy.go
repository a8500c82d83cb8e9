// Package eviction selects cache entries for removal under TTL, recency,
// and value-based policies.
package eviction

import (
	"sort"
	"time"

	"signalhub/internal/domain"
)

// Policy picks up to target entries to evict from the given candidates.
type Policy interface {
	Name() string
	Select(entries []*domain.CachedResponse, target int, now time.Time) []string
}

// TTLPolicy selects every expired entry. When the expired population exceeds
// the target, the oldest go first.
type TTLPolicy struct{}

func (TTLPolicy) Name() string { return "ttl" }

func (TTLPolicy) Select(entries []*domain.CachedResponse, target int, now time.Time) []string {
	var expired []*domain.CachedResponse
	for _, e := range entries {
		if e.ExpiredAt(now) {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ID)
	}
	return ids
}

// LRUPolicy selects the entries least recently touched.
type LRUPolicy struct{}

func (LRUPolicy) Name() string { return "lru" }

func (LRUPolicy) Select(entries []*domain.CachedResponse, target int, _ time.Time) []string {
	if target <= 0 {
		return nil
	}
	sorted := make([]*domain.CachedResponse, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectiveAccess().Before(sorted[j].EffectiveAccess())
	})
	if target > len(sorted) {
		target = len(sorted)
	}
	ids := make([]string, 0, target)
	for _, e := range sorted[:target] {
		ids = append(ids, e.ID)
	}
	return ids
}

// QualityPolicy scores entries and selects the lowest-value ones first.
type QualityPolicy struct{}

func (QualityPolicy) Name() string { return "quality" }

// Score rates an entry on [0,1]. Frequently hit, recently created answers
// from expensive models score highest.
func (QualityPolicy) Score(e *domain.CachedResponse, now time.Time) float64 {
	hitFactor := float64(e.HitCount) / 10
	if hitFactor > 0.4 {
		hitFactor = 0.4
	}

	var recencyFactor float64
	switch age := now.Sub(e.CreatedAt); {
	case age < time.Hour:
		recencyFactor = 0.3
	case age < 24*time.Hour:
		recencyFactor = 0.2
	case age < 168*time.Hour:
		recencyFactor = 0.1
	}

	var modelFactor float64
	switch e.Model {
	case domain.TierLarge:
		modelFactor = 0.3
	case domain.TierMedium:
		modelFactor = 0.2
	case domain.TierSmall:
		modelFactor = 0.1
	}

	return hitFactor + recencyFactor + modelFactor
}

func (p QualityPolicy) Select(entries []*domain.CachedResponse, target int, now time.Time) []string {
	if target <= 0 {
		return nil
	}
	type scored struct {
		id    string
		score float64
	}
	list := make([]scored, 0, len(entries))
	for _, e := range entries {
		list = append(list, scored{id: e.ID, score: p.Score(e, now)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].score < list[j].score })
	if target > len(list) {
		target = len(list)
	}
	ids := make([]string, 0, target)
	for _, s := range list[:target] {
		ids = append(ids, s.id)
	}
	return ids
}

// CompositePolicy applies TTL, then Quality, then LRU. Each stage reduces
// the remaining target by the new ids it contributed, so expired entries
// always go first and LRU is only the last-resort tiebreaker.
type CompositePolicy struct {
	ttl     TTLPolicy
	quality QualityPolicy
	lru     LRUPolicy
}

func NewCompositePolicy() *CompositePolicy { return &CompositePolicy{} }

func (*CompositePolicy) Name() string { return "composite" }

func (c *CompositePolicy) Select(entries []*domain.CachedResponse, target int, now time.Time) []string {
	selected := make(map[string]bool)
	var out []string

	add := func(ids []string, cap int) int {
		added := 0
		for _, id := range ids {
			if cap >= 0 && added >= cap {
				break
			}
			if selected[id] {
				continue
			}
			selected[id] = true
			out = append(out, id)
			added++
		}
		return added
	}

	// Expired entries are removed regardless of the target.
	add(c.ttl.Select(entries, target, now), -1)
	remaining := target - len(out)
	if remaining <= 0 {
		return out
	}

	live := make([]*domain.CachedResponse, 0, len(entries))
	for _, e := range entries {
		if !selected[e.ID] {
			live = append(live, e)
		}
	}

	remaining -= add(c.quality.Select(live, remaining, now), remaining)
	if remaining > 0 {
		live2 := live[:0]
		for _, e := range live {
			if !selected[e.ID] {
				live2 = append(live2, e)
			}
		}
		add(c.lru.Select(live2, remaining, now), remaining)
	}
	return out
}

// ForStrategy returns the policy configured by name, defaulting to composite.
func ForStrategy(name string) Policy {
	switch name {
	case "ttl":
		return TTLPolicy{}
	case "lru":
		return LRUPolicy{}
	case "quality":
		return QualityPolicy{}
	default:
		return NewCompositePolicy()
	}
}
