package session

import (
	"log/slog"
	"sync"

	"github.com/udisondev/shardrealm/internal/tsid"
)

// Manager is the process-wide session registry: every live Session
// keyed by its connection id, plus the player TSID to Session binding
// the outbound diff flush uses to find where to deliver a player's
// queued changes.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byPlayer map[tsid.TSID]*Session
}

// NewManager allocates an empty session registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byPlayer: make(map[tsid.TSID]*Session),
	}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

func (m *Manager) onClose(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID())
}

// bindPlayer associates player with s, replacing (and closing) any
// session already bound to the same player — a second connection
// logging the same account in takes over the old one rather than both
// staying live.
func (m *Manager) bindPlayer(player tsid.TSID, s *Session) {
	m.mu.Lock()
	prev, had := m.byPlayer[player]
	m.byPlayer[player] = s
	m.mu.Unlock()
	if had && prev != s {
		prev.Close()
	}
}

// unbindPlayer removes the player->session binding, but only if it
// still points at s — a session torn down after being replaced by a
// relogin must not clobber the newer binding.
func (m *Manager) unbindPlayer(player tsid.TSID, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byPlayer[player]; ok && cur == s {
		delete(m.byPlayer, player)
	}
}

// SessionForPlayer looks up the session currently bound to player, used
// by the outbound diff flush to deliver a commit's queued changes.
func (m *Manager) SessionForPlayer(player tsid.TSID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byPlayer[player]
	return s, ok
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// ForEachSession applies fn to every logged-in session. It walks a
// snapshot, so sessions registering or closing mid-iteration are safe,
// and a failure in one session — error or panic — is logged and skipped
// so it cannot block the rest of the broadcast.
func (m *Manager) ForEachSession(fn func(s *Session) error) {
	for _, s := range m.snapshot() {
		if !s.LoggedIn() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("session fanout panicked", "session", s.ID(), "panic", r)
				}
			}()
			if err := fn(s); err != nil {
				slog.Error("session fanout failed", "session", s.ID(), "error", err)
			}
		}()
	}
}

// SendToAll queues msg on every logged-in session.
func (m *Manager) SendToAll(msg Message) {
	m.ForEachSession(func(s *Session) error {
		s.Send(msg)
		return nil
	})
}

// Len reports how many connections are currently registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
