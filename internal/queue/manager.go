package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Manager owns one Queue per owner TSID, creating it lazily on first
// use.
type Manager struct {
	gw      persistence.Gateway
	evict   Evictor
	timeout time.Duration
	log     *slog.Logger

	mu         sync.Mutex
	queues     map[tsid.TSID]*Queue
	postCommit func(ctx context.Context, rc *reqctx.Context)
}

// NewManager allocates an empty queue registry.
func NewManager(gw persistence.Gateway, evict Evictor, timeout time.Duration, log *slog.Logger) *Manager {
	return &Manager{gw: gw, evict: evict, timeout: timeout, log: log, queues: make(map[tsid.TSID]*Queue)}
}

// SetPostCommit installs fn as the PostCommit hook on every queue this
// Manager creates from here on — the seam the outbound diff flush
// hangs off of without this package importing internal/diff
// or internal/session.
func (m *Manager) SetPostCommit(fn func(ctx context.Context, rc *reqctx.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCommit = fn
}

// For returns the queue owned by id, creating it if this is the first
// request against that owner.
func (m *Manager) For(id tsid.TSID) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[id]; ok && !q.Closed() {
		return q
	}
	q := New(id, string(id.Tag()), m.gw, m.evict, m.timeout, m.log)
	q.PostCommit = m.postCommit
	m.queues[id] = q
	return q
}

// Drop removes a closed queue from the registry so a future request
// against the same owner allocates a fresh one instead of hitting
// QueueClosed forever.
func (m *Manager) Drop(id tsid.TSID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, id)
}

// Len reports how many owner queues are currently registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}
