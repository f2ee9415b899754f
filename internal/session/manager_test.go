package session

import (
	"testing"

	"github.com/udisondev/shardrealm/internal/tsid"
)

func TestManagerBindPlayerClosesThePreviousSession(t *testing.T) {
	m := NewManager()

	aConn, aPeer := newPipeConn(t)
	defer aPeer.Close()
	bConn, bPeer := newPipeConn(t)
	defer bConn.Close()
	defer bPeer.Close()

	l := &Listener{sessions: m}
	sessA := newSession("a", aConn, l)
	sessB := newSession("b", bConn, l)
	m.register(sessA)
	m.register(sessB)

	player := tsid.New(tsid.TagPlayer)
	m.bindPlayer(player, sessA)

	got, ok := m.SessionForPlayer(player)
	if !ok || got != sessA {
		t.Fatal("expected player bound to sessA")
	}

	m.bindPlayer(player, sessB)

	got, ok = m.SessionForPlayer(player)
	if !ok || got != sessB {
		t.Fatal("expected player rebound to sessB")
	}

	select {
	case <-sessA.closeCh:
	default:
		t.Fatal("expected sessA to be closed once replaced by sessB")
	}
}

func TestManagerUnbindPlayerIgnoresStaleSession(t *testing.T) {
	m := NewManager()

	aConn, aPeer := newPipeConn(t)
	defer aConn.Close()
	defer aPeer.Close()
	bConn, bPeer := newPipeConn(t)
	defer bConn.Close()
	defer bPeer.Close()

	l := &Listener{sessions: m}
	sessA := newSession("a", aConn, l)
	sessB := newSession("b", bConn, l)

	player := tsid.New(tsid.TagPlayer)
	m.bindPlayer(player, sessA)
	m.bindPlayer(player, sessB) // sessA torn down, sessB now current

	// A teardown racing in for the replaced sessA must not clobber sessB's
	// binding.
	m.unbindPlayer(player, sessA)

	got, ok := m.SessionForPlayer(player)
	if !ok || got != sessB {
		t.Fatal("expected sessB's binding to survive sessA's stale unbind")
	}

	m.unbindPlayer(player, sessB)
	if _, ok := m.SessionForPlayer(player); ok {
		t.Fatal("expected no binding left after sessB unbinds itself")
	}
}

func TestManagerForEachSessionSkipsNotLoggedInAndSurvivesFailures(t *testing.T) {
	m := NewManager()

	aConn, aPeer := newPipeConn(t)
	defer aConn.Close()
	defer aPeer.Close()
	bConn, bPeer := newPipeConn(t)
	defer bConn.Close()
	defer bPeer.Close()
	cConn, cPeer := newPipeConn(t)
	defer cConn.Close()
	defer cPeer.Close()

	l := &Listener{sessions: m}
	sessA := newSession("a", aConn, l)
	sessB := newSession("b", bConn, l)
	sessC := newSession("c", cConn, l)
	sessA.loggedIn.Store(true)
	sessC.loggedIn.Store(true)
	m.register(sessA)
	m.register(sessB) // never logs in
	m.register(sessC)

	visited := map[string]bool{}
	m.ForEachSession(func(s *Session) error {
		visited[s.ID()] = true
		if s.ID() == "a" {
			panic("bad session")
		}
		return nil
	})

	if !visited["a"] || !visited["c"] {
		t.Fatalf("expected both logged-in sessions visited, got %v", visited)
	}
	if visited["b"] {
		t.Fatal("expected not-logged-in session to be skipped")
	}
}

func TestManagerRegisterAndOnClose(t *testing.T) {
	m := NewManager()
	conn, peer := newPipeConn(t)
	defer conn.Close()
	defer peer.Close()

	l := &Listener{sessions: m}
	sess := newSession("x", conn, l)

	m.register(sess)
	if m.Len() != 1 {
		t.Fatalf("expected 1 registered session, got %d", m.Len())
	}

	m.onClose(sess)
	if m.Len() != 0 {
		t.Fatalf("expected 0 registered sessions after onClose, got %d", m.Len())
	}
}
