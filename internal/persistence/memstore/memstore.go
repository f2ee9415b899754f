// Package memstore is an in-memory persistence.Gateway, used by tests
// and by cmd/gameshard when no database is configured.
package memstore

import (
	"context"
	"sync"

	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/tsid"
)

var _ persistence.Gateway = (*Store)(nil)

// Store is a Gateway over a sync.RWMutex-guarded map. Bodies are kept
// without a marshal round-trip; Write stores and Read returns a shallow
// copy of the top-level map — fine for tests, and for the no-database
// operating mode.
type Store struct {
	mu     sync.RWMutex
	bodies map[tsid.TSID]map[string]any
}

// New allocates an empty Store.
func New() *Store {
	return &Store{bodies: make(map[tsid.TSID]map[string]any)}
}

func (s *Store) Read(ctx context.Context, id tsid.TSID) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.bodies[id]
	if !ok {
		return nil, nil
	}
	return cloneBody(body), nil
}

func (s *Store) Write(ctx context.Context, id tsid.TSID, body map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[id] = cloneBody(body)
	return nil
}

func (s *Store) Delete(ctx context.Context, id tsid.TSID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bodies, id)
	return nil
}

func (s *Store) Close() error { return nil }

// Len reports how many bodies are currently stored, for test
// assertions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bodies)
}

func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}
