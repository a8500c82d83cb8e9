package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signalhub/internal/domain"
)

// MemoryStore keeps entries in process memory. Searches scan a snapshot so
// slow similarity math never holds the write lock.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*domain.CachedResponse
	capacity int
}

// NewMemoryStore returns a store bounded at capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*domain.CachedResponse),
		capacity: capacity,
	}
}

func (m *MemoryStore) Add(_ context.Context, entry *domain.CachedResponse) (bool, error) {
	if entry.ID == "" {
		return false, fmt.Errorf("%w: cache entry without id", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.ID]; !exists && len(m.entries) >= m.capacity {
		return false, nil
	}
	cp := cloneEntry(entry)
	m.entries[entry.ID] = cp
	return true, nil
}

func (m *MemoryStore) Search(_ context.Context, embedding []float32, threshold float64, limit int, ctxFilter map[string]string) ([]*domain.CacheSearchResult, error) {
	now := time.Now()
	snapshot := m.snapshot()

	var results []*domain.CacheSearchResult
	for _, e := range snapshot {
		if !e.Usable(now) {
			continue
		}
		if len(ctxFilter) > 0 && !e.ContextCompatible(ctxFilter) {
			continue
		}
		sim := CosineSimilarity(embedding, e.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, &domain.CacheSearchResult{Entry: e, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.CachedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: cache entry %s", domain.ErrNotFound, id)
	}
	return cloneEntry(e), nil
}

func (m *MemoryStore) Update(_ context.Context, entry *domain.CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; !ok {
		return fmt.Errorf("%w: cache entry %s", domain.ErrNotFound, entry.ID)
	}
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) All(_ context.Context) ([]*domain.CachedResponse, error) {
	return m.snapshot(), nil
}

func (m *MemoryStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.entries {
		if e.ExpiredAt(now) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*domain.CachedResponse)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Size(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Stats{Size: len(m.entries), Capacity: m.capacity}
	for _, e := range m.entries {
		if e.ExpiredAt(now) {
			s.ExpiredCount++
		} else if e.Status == domain.EntryActive {
			s.ActiveCount++
		}
	}
	if m.capacity > 0 {
		s.Utilization = float64(s.Size) / float64(m.capacity) * 100
	}
	return s, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) snapshot() []*domain.CachedResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CachedResponse, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

func cloneEntry(e *domain.CachedResponse) *domain.CachedResponse {
	cp := *e
	if e.Context != nil {
		cp.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}
