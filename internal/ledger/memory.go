package ledger

import (
	"context"
	"sync"
	"time"

	"signalhub/internal/domain"
)

// MemoryStore is an in-memory Store for tests and development. Records are
// held in append order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*domain.ModelUsage
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, rec *domain.ModelUsage) error {
	cp := *rec
	m.mu.Lock()
	m.records = append(m.records, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Range(_ context.Context, start, end time.Time, userID string) ([]*domain.ModelUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ModelUsage
	for _, r := range m.records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		if userID != "" && r.UserID != userID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int, userID string) ([]*domain.ModelUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ModelUsage
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if userID != "" && r.UserID != userID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) TotalCost(_ context.Context, start, end time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, r := range m.records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		total += r.CostUSD
	}
	return total, nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if r.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
