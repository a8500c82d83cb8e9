// Package semantic provides the query-level cache: embed, search, and serve
// previously computed responses for similar queries.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"signalhub/internal/cache/embedding"
	"signalhub/internal/cache/eviction"
	"signalhub/internal/cache/storage"
	"signalhub/internal/domain"

	"github.com/google/uuid"
)

// Config holds the cache facade settings.
type Config struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	Capacity            int
	ContextAware        bool
}

// Stats is the in-memory counter block for the reporting surface.
type Stats struct {
	TotalQueries  int64   `json:"total_queries"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	AvgSimilarity float64 `json:"avg_similarity"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// Cache is the semantic cache facade over an embedder and a vector store.
type Cache struct {
	embedder embedding.Embedder
	store    storage.Store
	policy   eviction.Policy
	cfg      Config
	logger   *slog.Logger

	mu            sync.Mutex
	totalQueries  int64
	hits          int64
	misses        int64
	similaritySum float64
	latencySumMs  float64
}

// New returns a cache facade. Pressure eviction always uses the composite
// policy so expired and low-value entries go before anything else.
func New(embedder embedding.Embedder, store storage.Store, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		embedder: embedder,
		store:    store,
		policy:   eviction.NewCompositePolicy(),
		cfg:      cfg,
		logger:   logger.With("component", "semantic_cache"),
	}
}

// Lookup searches for a cached response similar to queryText. Errors from
// the embedder or the store degrade to a miss; the caller never fails
// because the cache is unhealthy.
func (c *Cache) Lookup(ctx context.Context, queryText string, ctxFilter map[string]string) (*domain.CachedResponse, float64, bool) {
	start := time.Now()
	if !c.cfg.ContextAware {
		ctxFilter = nil
	}

	vec, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		c.logger.Warn("embed failed, treating as miss", "error", err)
		c.recordMiss(start, 0)
		return nil, 0, false
	}

	results, err := c.store.Search(ctx, vec, c.cfg.SimilarityThreshold, 1, ctxFilter)
	if err != nil {
		c.logger.Warn("cache search failed, treating as miss", "error", err)
		c.recordMiss(start, 0)
		return nil, 0, false
	}
	if len(results) == 0 {
		c.recordMiss(start, 0)
		return nil, 0, false
	}

	hit := results[0]
	hit.Entry.HitCount++
	hit.Entry.LastAccessed = time.Now()
	if err := c.store.Update(ctx, hit.Entry); err != nil {
		c.logger.Warn("hit bookkeeping failed", "id", hit.Entry.ID, "error", err)
	}

	c.recordHit(start, hit.Similarity)
	return hit.Entry, hit.Similarity, true
}

// Store caches a response for queryText. On capacity pressure it evicts
// ceil(1% of capacity) entries synchronously and retries the add once.
// Failures are logged and returned but callers are expected to continue.
func (c *Cache) Store(ctx context.Context, queryText string, payload []byte, model domain.ModelTier, ctxMap map[string]string) (*domain.CachedResponse, error) {
	vec, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding for store: %w", err)
	}
	if !c.cfg.ContextAware {
		ctxMap = nil
	}

	entry := &domain.CachedResponse{
		ID:         uuid.NewString(),
		QueryText:  queryText,
		Embedding:  vec,
		Response:   payload,
		Model:      model,
		CreatedAt:  time.Now(),
		TTLSeconds: int(c.cfg.TTL.Seconds()),
		Context:    ctxMap,
		Status:     domain.EntryActive,
	}

	added, err := c.store.Add(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("adding cache entry: %w", err)
	}
	if !added {
		target := int(math.Ceil(float64(c.cfg.Capacity) * 0.01))
		if target < 1 {
			target = 1
		}
		c.evictUnderPressure(ctx, target)
		added, err = c.store.Add(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("adding cache entry after eviction: %w", err)
		}
		if !added {
			return nil, fmt.Errorf("%w: cache full after eviction", domain.ErrCapacity)
		}
	}
	return entry, nil
}

func (c *Cache) evictUnderPressure(ctx context.Context, target int) {
	entries, err := c.store.All(ctx)
	if err != nil {
		c.logger.Warn("pressure eviction scan failed", "error", err)
		return
	}
	ids := c.policy.Select(entries, target, time.Now())
	for _, id := range ids {
		if err := c.store.Delete(ctx, id); err != nil {
			c.logger.Warn("pressure eviction delete failed", "id", id, "error", err)
		}
	}
	c.logger.Info("evicted under capacity pressure", "count", len(ids), "target", target)
}

// Stats returns a snapshot of the in-memory counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		TotalQueries: c.totalQueries,
		Hits:         c.hits,
		Misses:       c.misses,
	}
	if c.totalQueries > 0 {
		s.HitRate = float64(c.hits) / float64(c.totalQueries) * 100
		s.AvgLatencyMs = c.latencySumMs / float64(c.totalQueries)
	}
	if c.hits > 0 {
		s.AvgSimilarity = c.similaritySum / float64(c.hits)
	}
	return s
}

func (c *Cache) recordHit(start time.Time, similarity float64) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	c.mu.Lock()
	c.totalQueries++
	c.hits++
	c.similaritySum += similarity
	c.latencySumMs += elapsed
	c.mu.Unlock()
}

func (c *Cache) recordMiss(start time.Time, _ float64) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	c.mu.Lock()
	c.totalQueries++
	c.misses++
	c.latencySumMs += elapsed
	c.mu.Unlock()
}
