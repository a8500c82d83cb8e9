// Package storage provides the vector stores backing the semantic cache.
package storage

import (
	"context"
	"math"
	"time"

	"signalhub/internal/domain"
)

// Stats describes the state of a store.
type Stats struct {
	Size         int
	Capacity     int
	ActiveCount  int
	ExpiredCount int
	Utilization  float64 // percent
}

// Store holds cached responses and answers similarity searches.
type Store interface {
	// Add inserts an entry. It returns false without storing when the store
	// is at capacity.
	Add(ctx context.Context, entry *domain.CachedResponse) (bool, error)
	// Search returns usable entries whose similarity to the embedding meets
	// the threshold and whose context is compatible with the filter, best
	// first, capped at limit.
	Search(ctx context.Context, embedding []float32, threshold float64, limit int, ctxFilter map[string]string) ([]*domain.CacheSearchResult, error)
	// Get returns the entry with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.CachedResponse, error)
	// Update replaces the stored entry with the same id, or ErrNotFound.
	Update(ctx context.Context, entry *domain.CachedResponse) error
	// Delete removes an entry; removing an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// All returns a snapshot of every entry, for eviction scans.
	All(ctx context.Context) ([]*domain.CachedResponse, error)
	// CleanupExpired removes entries whose TTL has elapsed at time now.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
	// Clear removes everything.
	Clear(ctx context.Context) error
	// Size returns the number of stored entries.
	Size(ctx context.Context) (int, error)
	// Stats returns occupancy counters.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases backend resources.
	Close() error
}

// CosineSimilarity returns the cosine similarity of two vectors mapped to
// [0,1]. Mismatched lengths or zero-norm vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp float error, then map [-1,1] onto the [0,1] reuse-score range.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return (sim + 1) / 2
}
