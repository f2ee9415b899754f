package session

import (
	"net"
	"testing"
)

// newPipeConn returns one end of an in-memory net.Conn pair, along with
// the peer end the test owns and must close. Used to build a *Session
// around a real net.Conn without touching an actual socket.
func newPipeConn(t *testing.T) (conn net.Conn, peer net.Conn) {
	t.Helper()
	conn, peer = net.Pipe()
	return conn, peer
}
