// Package cache coordinates the semantic cache store and its eviction
// policies, running periodic maintenance in the background.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"signalhub/internal/cache/eviction"
	"signalhub/internal/cache/storage"
	"signalhub/internal/telemetry"
)

// Health reports cache occupancy for the health endpoint.
type Health struct {
	Size               int       `json:"size"`
	Capacity           int       `json:"capacity"`
	UtilizationPercent float64   `json:"utilization_percent"`
	ExpiredPercent     float64   `json:"expired_percent"`
	MaintenanceRunning bool      `json:"maintenance_running"`
	LastMaintenanceAt  time.Time `json:"last_maintenance_at"`
}

// Optimizer is an optional storage-level maintenance hook, e.g. VACUUM.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Manager runs the maintenance loop over a store.
type Manager struct {
	store    storage.Store
	policy   eviction.Policy
	capacity int
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	sweeping bool
	lastRun  time.Time
	stop     chan struct{}
	done     chan struct{}
}

// NewManager returns a manager over store with the given eviction policy.
// metrics may be nil when telemetry is not wired.
func NewManager(store storage.Store, policy eviction.Policy, capacity int, interval time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Manager{
		store:    store,
		policy:   policy,
		capacity: capacity,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With("component", "cache_manager"),
	}
}

// Start launches the background maintenance task. Calling Start twice is a
// no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	m.logger.Info("cache maintenance started", "interval", m.interval)
}

// Stop asks the maintenance task to exit and waits for it. An in-progress
// sweep completes before Stop returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("cache maintenance stopped")
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance performs one sweep: expired cleanup, capacity eviction down
// to 90%, then the optional storage optimization hook.
func (m *Manager) RunMaintenance(ctx context.Context) {
	m.mu.Lock()
	if m.sweeping {
		m.mu.Unlock()
		return
	}
	m.sweeping = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sweeping = false
		m.lastRun = time.Now()
		m.mu.Unlock()
	}()

	// The capacity pass keys off the size the sweep started with: expired
	// cleanup alone can land exactly at capacity, and an over-capacity sweep
	// must still end with 10% headroom.
	preSize, sizeErr := m.store.Size(ctx)
	if sizeErr != nil {
		m.logger.Error("size check failed", "error", sizeErr)
	}

	now := time.Now()
	removed, err := m.store.CleanupExpired(ctx, now)
	if err != nil {
		m.logger.Error("expired cleanup failed", "error", err)
	} else if removed > 0 {
		m.logger.Info("expired entries removed", "count", removed)
	}

	if sizeErr == nil && preSize > m.capacity {
		size, err := m.store.Size(ctx)
		if err != nil {
			m.logger.Error("size check failed", "error", err)
			return
		}
		if target := size - int(0.9*float64(m.capacity)); target > 0 {
			evicted, err := m.Evict(ctx, target)
			if err != nil {
				m.logger.Error("capacity eviction failed", "error", err)
			} else {
				m.logger.Info("capacity eviction complete", "evicted", evicted, "target", target)
			}
		}
	}

	if opt, ok := m.store.(Optimizer); ok {
		if err := opt.Optimize(ctx); err != nil {
			m.logger.Warn("storage optimization failed", "error", err)
		}
	}

	m.publishGauges(ctx)
}

// publishGauges reflects current occupancy into the cache gauges.
func (m *Manager) publishGauges(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("stats read for gauges failed", "error", err)
		return
	}
	m.metrics.CacheEntries.Set(float64(stats.Size))
	m.metrics.CacheUtilization.Set(stats.Utilization)
}

// Evict removes up to target entries chosen by the configured policy and
// returns how many were deleted.
func (m *Manager) Evict(ctx context.Context, target int) (int, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}
	ids := m.policy.Select(entries, target, time.Now())
	evicted := 0
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("evicting entry failed", "id", id, "error", err)
			continue
		}
		evicted++
	}
	return evicted, nil
}

// EvictAll clears the whole cache.
func (m *Manager) EvictAll(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// EvictMatching removes entries whose query text contains the substring and
// returns the count removed.
func (m *Manager) EvictMatching(ctx context.Context, substring string) (int, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !strings.Contains(e.QueryText, substring) {
			continue
		}
		if err := m.store.Delete(ctx, e.ID); err != nil {
			m.logger.Warn("evicting matching entry failed", "id", e.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Health returns current occupancy and maintenance state.
func (m *Manager) Health(ctx context.Context) (*Health, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	running := m.running
	lastRun := m.lastRun
	m.mu.Unlock()

	h := &Health{
		Size:               stats.Size,
		Capacity:           stats.Capacity,
		UtilizationPercent: stats.Utilization,
		MaintenanceRunning: running,
		LastMaintenanceAt:  lastRun,
	}
	if stats.Size > 0 {
		h.ExpiredPercent = float64(stats.ExpiredCount) / float64(stats.Size) * 100
	}
	return h, nil
}
