// Package domain contains the shared types for Signal Hub.
package domain

import (
	"strings"
	"time"
)

// ModelTier identifies one of the three model cost/capability classes.
type ModelTier string

const (
	TierSmall  ModelTier = "small"
	TierMedium ModelTier = "medium"
	TierLarge  ModelTier = "large"
)

// AllTiers returns the tiers ordered cheapest to most expensive.
func AllTiers() []ModelTier {
	return []ModelTier{TierSmall, TierMedium, TierLarge}
}

// ParseTier parses a tier name, accepting both the canonical names and the
// legacy Claude spellings (haiku/sonnet/opus).
func ParseTier(s string) (ModelTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small", "haiku":
		return TierSmall, true
	case "medium", "sonnet":
		return TierMedium, true
	case "large", "opus":
		return TierLarge, true
	}
	return "", false
}

// ModelInfo describes one model tier: pricing, limits, and relative cost.
type ModelInfo struct {
	ID              ModelTier
	Name            string
	InputCostPer1M  float64
	OutputCostPer1M float64
	ContextWindow   int
	MaxOutputTokens int
}

// Query is an immutable incoming request to be routed.
type Query struct {
	Text           string
	ToolName       string
	PreferredModel ModelTier // empty when the caller has no preference
	Context        map[string]string
	UserID         string
}

// LengthChars returns the prompt length in characters.
func (q Query) LengthChars() int { return len(q.Text) }

// EstimatedTokens approximates the token count as length/4.
func (q Query) EstimatedTokens() int { return len(q.Text) / 4 }

// RoutingDecision is the output of a single routing rule (or the default
// fallback).
type RoutingDecision struct {
	Model        ModelTier
	Reason       string
	Confidence   float64 // in [0,1]
	RulesApplied []string
	Metadata     map[string]any
}

// OverrideSource identifies where a model override originated.
type OverrideSource string

const (
	OverrideNone     OverrideSource = "none"
	OverrideExplicit OverrideSource = "explicit"
	OverrideInline   OverrideSource = "inline"
	OverrideSession  OverrideSource = "session"
)

// ModelOverride is a forced model choice that bypasses the rule stack.
type ModelOverride struct {
	Model  ModelTier
	Source OverrideSource
	Reason string
}

// ModelSelection is the final routing output for one query.
type ModelSelection struct {
	Model          ModelTier
	Decision       *RoutingDecision // nil when overridden
	Overridden     bool
	OverrideSource OverrideSource
	OverrideReason string
	Timestamp      time.Time
}

// EntryStatus is the lifecycle state of a cache entry.
type EntryStatus string

const (
	EntryActive  EntryStatus = "ACTIVE"
	EntryExpired EntryStatus = "EXPIRED"
	EntryEvicted EntryStatus = "EVICTED"
)

// CachedResponse is a stored query/response pair with its embedding.
type CachedResponse struct {
	ID           string
	QueryText    string
	Embedding    []float32
	Response     []byte // JSON-serialized response payload
	Model        ModelTier
	CreatedAt    time.Time
	TTLSeconds   int
	HitCount     int
	LastAccessed time.Time // zero until the first hit
	Context      map[string]string
	Status       EntryStatus
}

// Usable reports whether the entry may serve a lookup at time now.
func (e *CachedResponse) Usable(now time.Time) bool {
	return e.Status == EntryActive && !e.ExpiredAt(now)
}

// ExpiredAt reports whether the entry's TTL has elapsed at time now.
func (e *CachedResponse) ExpiredAt(now time.Time) bool {
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// EffectiveAccess returns last_accessed, falling back to created_at.
func (e *CachedResponse) EffectiveAccess() time.Time {
	if e.LastAccessed.IsZero() {
		return e.CreatedAt
	}
	return e.LastAccessed
}

// ContextCompatible reports whether the entry may serve a query carrying the
// given context filter. Every key present in both maps must match exactly;
// keys missing from either side are "don't care".
func (e *CachedResponse) ContextCompatible(filter map[string]string) bool {
	if len(filter) == 0 || len(e.Context) == 0 {
		return true
	}
	for k, want := range filter {
		if have, ok := e.Context[k]; ok && have != want {
			return false
		}
	}
	return true
}

// CacheSearchResult pairs an entry with its reuse score.
type CacheSearchResult struct {
	Entry      *CachedResponse
	Similarity float64 // in [0,1]
}

// ModelUsage is one row of the cost ledger. For cache hits the token counts
// and cost are zero.
type ModelUsage struct {
	ID            string
	Timestamp     time.Time
	Model         ModelTier
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	SavingsUSD    float64 // versus the large-tier baseline
	RoutingReason string
	CacheHit      bool
	LatencyMs     int
	ToolName      string
	UserID        string
	Metadata      map[string]string
}

// CostSummary aggregates ledger rows over a time window.
type CostSummary struct {
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TotalCostUSD      float64
	TotalSavedUSD     float64
	RoutingSavingsUSD float64
	CacheSavingsUSD   float64
	TotalRequests     int
	CacheHits         int
	CacheHitRate      float64 // percent
	SavingsPercent    float64
	ModelDistribution map[ModelTier]int
	AvgLatencyMs      float64
}

// SessionEscalation pins a session to a model until it expires.
type SessionEscalation struct {
	SessionID string
	Model     ModelTier
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

// Expired reports whether the escalation has lapsed at time now.
func (s *SessionEscalation) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CompletionRequest is what the gateway sends to a model provider.
type CompletionRequest struct {
	Model     ModelTier
	Prompt    string
	MaxTokens int
}

// Completion is a provider response with its token accounting.
type Completion struct {
	Content      string
	Model        ModelTier
	InputTokens  int
	OutputTokens int
}
