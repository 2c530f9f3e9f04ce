// Package discussion runs classroom sessions: admission control, the
// turn-taking loop and the WebSocket surface that carries it.
package discussion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/classroom-labs/internal/domain"
	"github.com/ashureev/classroom-labs/internal/observe"
)

var (
	// ErrDiscussionActive is returned by Claim while another session holds
	// the slot.
	ErrDiscussionActive = errors.New("discussion: a discussion is already in progress")
	// ErrTerminated is the cancel cause for an explicit terminate.
	ErrTerminated = errors.New("discussion: terminated by participant")
	// ErrRestartRequested is the cancel cause for a restart.
	ErrRestartRequested = errors.New("discussion: restart requested")
	// ErrConnectionClosed is the cancel cause when the client goes away.
	ErrConnectionClosed = errors.New("discussion: connection closed")
	// ErrServerShutdown is the cancel cause used during shutdown.
	ErrServerShutdown = errors.New("discussion: server shutting down")
)

// Session is one discussion from kickoff to termination. The history is
// append-only; readers get copies.
type Session struct {
	ID        string
	ClientID  string
	Kickoff   string
	Roster    *domain.Roster
	StartedAt time.Time

	mu          sync.Mutex
	history     domain.History
	lastSpeaker string
	cancel      context.CancelCauseFunc
	ended       chan struct{}
	endOnce     sync.Once
}

// NewSession creates a session with a fresh ID.
func NewSession(clientID, kickoff string, roster *domain.Roster) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Kickoff:   kickoff,
		Roster:    roster,
		StartedAt: time.Now(),
		ended:     make(chan struct{}),
	}
}

// Ended is closed once the session has reached a terminal state, before
// the final notice goes out. Archiving may still be in progress.
func (s *Session) Ended() <-chan struct{} {
	return s.ended
}

func (s *Session) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Append records an utterance and makes its sender the last speaker.
func (s *Session) Append(sender, content string) domain.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSpeaker = sender
	return s.history.Append(sender, content)
}

// History returns a copy of the utterances so far.
func (s *Session) History() []domain.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// LastSpeaker returns the sender of the latest utterance, or "".
func (s *Session) LastSpeaker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeaker
}

// Rounds returns the number of completed rounds.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// Bind derives the session's run context from parent. Cancel on the session
// cancels it with a cause.
func (s *Session) Bind(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx
}

// Cancel stops a bound session. It reports false if the session was never
// bound.
func (s *Session) Cancel(cause error) bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(cause)
	return true
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Rounds      int       `json:"rounds"`
	LastSpeaker string    `json:"last_speaker,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.ID,
		Rounds:      s.history.Len(),
		LastSpeaker: s.lastSpeaker,
		StartedAt:   s.StartedAt,
	}
}

// SessionManager guards the single active-discussion slot. Claim and
// Release are atomic with respect to each other.
type SessionManager struct {
	mu      sync.Mutex
	active  *Session
	metrics *observe.Metrics
}

// NewSessionManager creates an empty manager. metrics may be nil.
func NewSessionManager(metrics *observe.Metrics) *SessionManager {
	return &SessionManager{metrics: metrics}
}

// Claim makes s the active session, or returns ErrDiscussionActive.
func (m *SessionManager) Claim(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.metrics != nil {
			m.metrics.RejectedSessions.Add(ctx, 1)
		}
		slog.Info("Discussion rejected", "session_id", s.ID, "active_session_id", m.active.ID)
		return ErrDiscussionActive
	}

	m.active = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("Discussion claimed", "session_id", s.ID, "client_id", s.ClientID)
	return nil
}

// Release frees the slot if s holds it. Releasing twice, or releasing a
// session that never claimed, is a no-op.
func (m *SessionManager) Release(ctx context.Context, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active != s {
		return false
	}
	m.active = nil
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Info("Discussion released", "session_id", s.ID)
	return true
}

// Active returns the session holding the slot, or nil.
func (m *SessionManager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// CancelActive cancels the running session, if any.
func (m *SessionManager) CancelActive(cause error) bool {
	s := m.Active()
	if s == nil {
		return false
	}
	return s.Cancel(cause)
}
