package semantic

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signalhub/internal/cache/embedding"
	"signalhub/internal/cache/storage"
	"signalhub/internal/domain"
)

func newTestCache(capacity int, threshold float64, ttl time.Duration) (*Cache, storage.Store) {
	store := storage.NewMemoryStore(capacity)
	embedder := embedding.NewService(embedding.NewLocalClient(32), 100, time.Second)
	c := New(embedder, store, Config{
		SimilarityThreshold: threshold,
		TTL:                 ttl,
		Capacity:            capacity,
		ContextAware:        true,
	}, nil)
	return c, store
}

func TestStoreThenLookupHits(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(100, 0.85, 24*time.Hour)

	entry, err := c.Store(ctx, "What is X?", []byte(`{"content":"X is ..."}`), domain.TierMedium, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	hit, sim, ok := c.Lookup(ctx, "What is X?", nil)
	if !ok {
		t.Fatal("Lookup after identical Store missed")
	}
	if sim < 0.999 {
		t.Errorf("similarity = %v, want >= 0.999", sim)
	}
	if hit.ID != entry.ID {
		t.Errorf("hit id = %s, want %s", hit.ID, entry.ID)
	}
	if hit.HitCount != 1 {
		t.Errorf("hit_count = %d, want 1", hit.HitCount)
	}
	if hit.LastAccessed.IsZero() {
		t.Error("last_accessed not set on hit")
	}
}

func TestLookupMissBelowThreshold(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(100, 0.999, 24*time.Hour)

	if _, err := c.Store(ctx, "completely different topic about databases", []byte(`{}`), domain.TierSmall, nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, _, ok := c.Lookup(ctx, "unrelated question on music theory", nil); ok {
		t.Error("Lookup hit across unrelated texts at threshold 0.999")
	}
}

func TestLookupExpiredEntryMisses(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(100, 0.85, time.Second)

	entry, err := c.Store(ctx, "ephemeral", []byte(`{}`), domain.TierSmall, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	// Backdate past the TTL instead of sleeping.
	entry.CreatedAt = time.Now().Add(-time.Minute)
	if err := store.Update(ctx, entry); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, _, ok := c.Lookup(ctx, "ephemeral", nil); ok {
		t.Error("Lookup returned an expired entry")
	}
}

func TestContextCompatibility(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(100, 0.85, 24*time.Hour)

	if _, err := c.Store(ctx, "how do I sort", []byte(`{"lang":"python"}`), domain.TierSmall,
		map[string]string{"language": "python"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, _, ok := c.Lookup(ctx, "how do I sort", map[string]string{"language": "go"}); ok {
		t.Error("Lookup hit with incompatible context")
	}
	if _, _, ok := c.Lookup(ctx, "how do I sort", map[string]string{"language": "python"}); !ok {
		t.Error("Lookup missed with matching context")
	}
	if _, _, ok := c.Lookup(ctx, "how do I sort", nil); !ok {
		t.Error("Lookup missed with no context filter")
	}
}

func TestStoreEvictsUnderPressure(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(10, 0.85, 24*time.Hour)

	for i := 0; i < 10; i++ {
		if _, err := c.Store(ctx, fmt.Sprintf("filler query number %d", i), []byte(`{}`), domain.TierSmall, nil); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	// Cache is full now; the next store must evict and still succeed.
	if _, err := c.Store(ctx, "one more query", []byte(`{}`), domain.TierMedium, nil); err != nil {
		t.Fatalf("Store at capacity: %v", err)
	}
	size, _ := store.Size(ctx)
	if size > 10 {
		t.Errorf("size = %d, exceeds capacity", size)
	}
	if _, _, ok := c.Lookup(ctx, "one more query", nil); !ok {
		t.Error("entry stored under pressure not retrievable")
	}
}

// failingEmbedder always errors, exercising the degrade-to-miss path.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

func TestLookupDegradesOnEmbedderFailure(t *testing.T) {
	store := storage.NewMemoryStore(10)
	c := New(failingEmbedder{}, store, Config{SimilarityThreshold: 0.85, TTL: time.Hour, Capacity: 10}, nil)

	if _, _, ok := c.Lookup(context.Background(), "anything", nil); ok {
		t.Error("Lookup hit despite embedder failure")
	}
	if _, err := c.Store(context.Background(), "anything", []byte(`{}`), domain.TierSmall, nil); err == nil {
		t.Error("Store succeeded despite embedder failure")
	}
	s := c.Stats()
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(100, 0.85, 24*time.Hour)

	c.Store(ctx, "query one", []byte(`{}`), domain.TierSmall, nil)
	c.Lookup(ctx, "query one", nil)                   // hit
	c.Lookup(ctx, "something entirely different", nil) // likely miss

	s := c.Stats()
	if s.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d, want 2", s.TotalQueries)
	}
	if s.Hits < 1 {
		t.Errorf("Hits = %d, want >= 1", s.Hits)
	}
	if s.Hits+s.Misses != s.TotalQueries {
		t.Errorf("hits(%d) + misses(%d) != total(%d)", s.Hits, s.Misses, s.TotalQueries)
	}
	if s.Hits > 0 && s.AvgSimilarity <= 0 {
		t.Error("AvgSimilarity not tracked on hits")
	}
}
