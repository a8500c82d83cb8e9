// Package embedding turns query text into fixed-dimension vectors for the
// semantic cache, with normalization and a bounded reuse cache in front of
// the actual embedding client.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalhub/internal/domain"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// Embedder produces a vector for a piece of text. Implementations must be
// deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service wraps a client with normalization, a bounded FIFO cache keyed by
// content hash, and in-flight deduplication.
type Service struct {
	client  Embedder
	timeout time.Duration
	group   singleflight.Group

	mu    sync.Mutex
	cache map[string][]float32
	order []string // FIFO of cache keys
	limit int
}

// NewService returns a service over client. cacheSize bounds the reuse
// cache; zero disables it.
func NewService(client Embedder, cacheSize int, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		client:  client,
		timeout: timeout,
		cache:   make(map[string][]float32),
		limit:   cacheSize,
	}
}

// NormalizeText canonicalizes text before hashing or embedding: NFC form,
// lowercased, whitespace runs collapsed to single spaces.
func NormalizeText(text string) string {
	text = norm.NFC.String(text)
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.Join(strings.Fields(text), " ")
}

// HashText returns the content key for normalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// Embed returns the vector for text, serving repeats from the reuse cache
// and collapsing concurrent requests for identical text into one call.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}
	key := HashText(text)

	s.mu.Lock()
	if vec, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		vec, err := s.client.Embed(embedCtx, NormalizeText(text))
		if err != nil {
			return nil, fmt.Errorf("%w: embedding: %v", domain.ErrTransient, err)
		}
		s.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *Service) put(key string, vec []float32) {
	if s.limit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; ok {
		return
	}
	for len(s.cache) >= s.limit && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
	s.cache[key] = vec
	s.order = append(s.order, key)
}

// CacheSize returns the number of cached vectors.
func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
