package escalation

import (
	"strings"
	"sync/atomic"

	"signalhub/internal/domain"
)

// Layer resolves overrides in strict precedence: explicit preference, then
// session pin, then inline hint.
type Layer struct {
	sessions    *SessionManager
	inlineHints bool

	explicitCount atomic.Int64
	sessionCount  atomic.Int64
	inlineCount   atomic.Int64
}

// NewLayer returns a layer over the given session manager.
func NewLayer(sessions *SessionManager, inlineHints bool) *Layer {
	return &Layer{sessions: sessions, inlineHints: inlineHints}
}

// Resolve returns the override for the query, if any, and the query text
// with any inline hint token stripped.
func (l *Layer) Resolve(q domain.Query, sessionID string) (*domain.ModelOverride, string) {
	if q.PreferredModel != "" {
		l.explicitCount.Add(1)
		return &domain.ModelOverride{
			Model:  q.PreferredModel,
			Source: domain.OverrideExplicit,
			Reason: "user preference",
		}, q.Text
	}

	if sessionID != "" {
		if esc, ok := l.sessions.Active(sessionID); ok {
			l.sessionCount.Add(1)
			return &domain.ModelOverride{
				Model:  esc.Model,
				Source: domain.OverrideSession,
				Reason: esc.Reason,
			}, q.Text
		}
	}

	if l.inlineHints {
		if tier, stripped, ok := parseInlineHint(q.Text); ok {
			l.inlineCount.Add(1)
			return &domain.ModelOverride{
				Model:  tier,
				Source: domain.OverrideInline,
				Reason: "inline hint",
			}, stripped
		}
	}

	return nil, q.Text
}

// Counts returns per-source override totals.
func (l *Layer) Counts() map[domain.OverrideSource]int64 {
	return map[domain.OverrideSource]int64{
		domain.OverrideExplicit: l.explicitCount.Load(),
		domain.OverrideSession:  l.sessionCount.Load(),
		domain.OverrideInline:   l.inlineCount.Load(),
	}
}

// parseInlineHint finds an @tier token anywhere in text. Both the canonical
// names and the haiku/sonnet/opus spellings are accepted, case-insensitive.
// The hint only applies when stripping it leaves a non-empty query.
func parseInlineHint(text string) (domain.ModelTier, string, bool) {
	fields := strings.Fields(text)
	for i, f := range fields {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		tier, ok := domain.ParseTier(strings.TrimPrefix(f, "@"))
		if !ok {
			continue
		}
		rest := strings.Join(append(append([]string{}, fields[:i]...), fields[i+1:]...), " ")
		if strings.TrimSpace(rest) == "" {
			return "", text, false
		}
		return tier, rest, true
	}
	return "", text, false
}
