// Package escalation resolves user-driven model overrides: explicit
// preferences, session pins, and inline hints.
package escalation

import (
	"fmt"
	"sync"
	"time"

	"signalhub/internal/domain"
)

// DefaultSessionDuration is how long a session escalation holds when the
// caller does not say otherwise.
const DefaultSessionDuration = 30 * time.Minute

// SessionManager tracks per-session model pins with lazy expiry.
type SessionManager struct {
	defaultDuration time.Duration
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.SessionEscalation
}

// NewSessionManager returns a manager with the given default duration.
func NewSessionManager(defaultDuration time.Duration) *SessionManager {
	if defaultDuration <= 0 {
		defaultDuration = DefaultSessionDuration
	}
	return &SessionManager{
		defaultDuration: defaultDuration,
		now:             time.Now,
		sessions:        make(map[string]*domain.SessionEscalation),
	}
}

// Escalate pins sessionID to model. A zero duration takes the default.
func (m *SessionManager) Escalate(sessionID string, model domain.ModelTier, duration time.Duration, reason string) (*domain.SessionEscalation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", domain.ErrInvalidInput)
	}
	if duration <= 0 {
		duration = m.defaultDuration
	}
	now := m.now()
	esc := &domain.SessionEscalation{
		SessionID: sessionID,
		Model:     model,
		ExpiresAt: now.Add(duration),
		Reason:    reason,
		CreatedAt: now,
	}
	m.mu.Lock()
	m.sessions[sessionID] = esc
	m.mu.Unlock()
	return esc, nil
}

// Active returns the live escalation for sessionID, if any. Every read also
// sweeps out expired sessions.
func (m *SessionManager) Active(sessionID string) (*domain.SessionEscalation, bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, esc := range m.sessions {
		if esc.Expired(now) {
			delete(m.sessions, id)
		}
	}
	esc, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *esc
	return &cp, true
}

// Clear drops the escalation for sessionID.
func (m *SessionManager) Clear(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Len returns the number of tracked sessions, expired included.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
