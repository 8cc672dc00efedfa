// Package session scopes per-viewer state to an authenticated session.
package session

import (
	"context"
	"sync"

	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/chat"
	"go.uber.org/zap"
)

// Session is the live state of one signed-in session: who the viewer is
// and their running unread aggregator.
type Session struct {
	Identity   auth.Identity
	Aggregator *chat.Aggregator
	refs       int
}

// Manager hands out sessions to websocket connections. A session starts
// with its first connection and ends when its last connection goes away or
// the session is signed out.
type Manager struct {
	ctx           context.Context
	newAggregator func() *chat.Aggregator
	log           *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a manager whose aggregators live at most as long as
// ctx.
func NewManager(ctx context.Context, newAggregator func() *chat.Aggregator, log *zap.Logger) *Manager {
	return &Manager{
		ctx:           ctx,
		newAggregator: newAggregator,
		log:           log,
		sessions:      make(map[string]*Session),
	}
}

// Acquire returns the identity's session, starting it if needed. Every
// Acquire must be paired with a Release.
func (m *Manager) Acquire(id auth.Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id.SessionID]; ok {
		s.refs++
		return s, nil
	}
	agg := m.newAggregator()
	if err := agg.Start(m.ctx, id.UserID); err != nil {
		return nil, err
	}
	s := &Session{Identity: id, Aggregator: agg, refs: 1}
	m.sessions[id.SessionID] = s
	m.log.Debug("session started", zap.String("user_id", id.UserID))
	return s, nil
}

// Release drops one reference. The last one stops the session.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.Identity.SessionID]
	if !ok || cur != s {
		m.mu.Unlock()
		return
	}
	s.refs--
	last := s.refs == 0
	if last {
		delete(m.sessions, s.Identity.SessionID)
	}
	m.mu.Unlock()

	if last {
		s.Aggregator.Stop()
		m.log.Debug("session ended", zap.String("user_id", s.Identity.UserID))
	}
}

// End stops a session regardless of its connections, which see their
// aggregator's updates end.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		s.Aggregator.Stop()
		m.log.Info("session signed out", zap.String("user_id", s.Identity.UserID))
	}
}

// HandleAuthEvent ends sessions that are signed out. Pass it to
// auth.Service.Watch.
func (m *Manager) HandleAuthEvent(ev auth.Event) {
	if ev.Kind == auth.SignedOut {
		m.End(ev.SessionID)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
