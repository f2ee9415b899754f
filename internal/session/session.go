// Package session implements the wire session layer and session
// manager: framed-socket client connections, the ping/login_start
// fast paths that bypass the request engine, and the registry of live
// sessions used for fanout.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
	"github.com/udisondev/shardrealm/internal/wirecrypt"
)

// defaultSendQueueSize / defaultWriteTimeout are
// the per-session defaults, overridden by config when a Listener is
// built with non-zero values.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

// Session is one client's framed socket connection, bound to at most one
// player TSID once login_start completes. Reads happen on the goroutine
// that runs serve; writes happen on a dedicated pump goroutine draining
// sendCh, so a slow write never blocks the read loop processing the
// next incoming frame.
type Session struct {
	id   string
	conn net.Conn
	l    *Listener

	reader *frameReader
	cipher *wirecrypt.Cipher

	loggedIn atomic.Bool
	player   atomic.Value // tsid.TSID

	sendCh       chan []byte
	closeCh      chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newSession(id string, conn net.Conn, l *Listener) *Session {
	s := &Session{
		id:           id,
		conn:         conn,
		l:            l,
		reader:       newFrameReader(conn, l.maxMsgSize, l.cipher),
		cipher:       l.cipher,
		sendCh:       make(chan []byte, nonZero(l.sendQueueSize, defaultSendQueueSize)),
		closeCh:      make(chan struct{}),
		writeTimeout: nonZeroDuration(l.writeTimeout, defaultWriteTimeout),
	}
	s.player.Store(tsid.TSID(""))
	return s
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// ID returns the session's unique registration id.
func (s *Session) ID() string { return s.id }

// Player returns the bound player TSID, or "" before login_start
// completes.
func (s *Session) Player() tsid.TSID {
	return s.player.Load().(tsid.TSID)
}

// LoggedIn reports whether login_start has completed for this session.
func (s *Session) LoggedIn() bool { return s.loggedIn.Load() }

// serve runs the read loop until the connection closes or a fatal
// protocol error occurs, then tears the session down.
func (s *Session) serve(ctx context.Context) {
	go s.writePump()
	defer s.teardown(ctx)

	for {
		body, err := s.reader.next()
		if err != nil {
			var protoErr *shardrealmerr.ProtocolError
			if errors.As(err, &protoErr) {
				s.l.log.Warn("closing session on protocol error", "session", s.id, "error", err)
			} else if !errors.Is(err, io.EOF) {
				s.l.log.Debug("session read loop ended", "session", s.id, "error", err)
			}
			return
		}

		msg, err := decodeMessage(body)
		if err != nil {
			s.l.log.Warn("dropping malformed frame", "session", s.id, "error", err)
			continue
		}
		s.dispatch(ctx, msg)
	}
}

// dispatch routes one decoded message: ping and login_start are answered
// synchronously off the request engine; everything else is pushed onto
// the bound player's FIFO queue.
func (s *Session) dispatch(ctx context.Context, msg Message) {
	msgID, _ := msg.MsgID()

	switch msg.Type() {
	case "ping":
		s.handlePing(msg, msgID)
		return
	case "login_start":
		s.handleLoginStart(ctx, msg, msgID)
		return
	}

	if !s.loggedIn.Load() {
		// Nothing but login/relogin traffic may go back to the client
		// before login completes, so the message is dropped, not answered.
		s.l.log.Warn("dropping message before login", "session", s.id, "type", msg.Type())
		return
	}

	player := s.Player()
	handler, ok := s.l.handlerFor(msg.Type())
	if !ok {
		s.Send(errorMessage(msg.Type(), msgID, errors.New("Requested method does not exist")))
		return
	}

	err := s.l.queues.For(player).Push(func(ctx context.Context) (any, error) {
		res, err := handler(ctx, s, msg)
		return res, err
	}, func(result any, err error) {
		if err != nil {
			s.Send(errorMessage(msg.Type(), msgID, err))
			return
		}
		var resultMsg Message
		if m, ok := result.(Message); ok {
			resultMsg = m
		}
		s.Send(successMessage(msg.Type(), msgID, resultMsg))
	}, false)
	if err != nil {
		s.Send(errorMessage(msg.Type(), msgID, err))
	}
}

// handlePing answers synchronously without touching the request engine.
func (s *Session) handlePing(msg Message, msgID any) {
	resp := Message{"type": "ping", "success": true, "ts": time.Now().Unix()}
	if msgID != nil {
		resp["msg_id"] = msgID
	}
	s.sendLocked(resp, true)
}

// handleLoginStart authenticates the token via the pluggable auth
// module and binds the resulting player TSID before any further
// message is processed.
func (s *Session) handleLoginStart(ctx context.Context, msg Message, msgID any) {
	token, _ := msg["token"].(string)
	validator, ok := s.l.auth.Get(s.l.authModule)
	if !ok {
		s.sendLocked(errorMessage("login_start", msgID, errors.New("auth module not configured")), true)
		s.Close()
		return
	}
	identity, err := validator.Validate(ctx, token)
	if err != nil {
		s.sendLocked(errorMessage("login_start", msgID, &shardrealmerr.AuthError{Reason: err.Error()}), true)
		s.Close()
		return
	}
	playerID, err := tsid.Parse(identity.PlayerTSID)
	if err != nil {
		s.sendLocked(errorMessage("login_start", msgID, err), true)
		s.Close()
		return
	}
	s.player.Store(playerID)
	s.loggedIn.Store(true)
	s.l.sessions.bindPlayer(playerID, s)
	s.sendLocked(successMessage("login_start", msgID, nil), true)
}

// Send serializes and enqueues msg for delivery, gated on a per-session
// loggedIn flag unless msg is a login/relogin-related type.
func (s *Session) Send(msg Message) {
	s.sendLocked(msg, false)
}

func (s *Session) sendLocked(msg Message, bypassGate bool) {
	if !bypassGate && !s.loggedIn.Load() && !isLoginRelated(msg.Type()) {
		return
	}
	raw, err := encodeMessage(msg)
	if err != nil {
		s.l.log.Error("failed to encode outbound message", "session", s.id, "error", err)
		return
	}
	select {
	case s.sendCh <- raw:
	default:
		// Back-pressure: a slow client's outbound buffer is full. Disconnect
		// rather than block the caller's goroutine forever.
		s.l.log.Warn("session send queue full, disconnecting", "session", s.id)
		s.Close()
	}
}

func isLoginRelated(msgType string) bool {
	switch msgType {
	case "login_start", "login_end", "relogin_start", "relogin_end":
		return true
	default:
		return false
	}
}

// writePump drains sendCh, batching whatever is already queued into one
// net.Buffers writev per wake-up.
func (s *Session) writePump() {
	for {
		select {
		case first, ok := <-s.sendCh:
			if !ok {
				return
			}
			batch := [][]byte{first}
		drain:
			for {
				select {
				case next, ok := <-s.sendCh:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			if err := writeFrames(s.conn, batch, s.cipher); err != nil {
				s.l.log.Debug("session write failed", "session", s.id, "error", err)
				s.Close()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// Close shuts the session's connection down. Safe to call multiple
// times and from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		_ = s.conn.Close()
	})
}

// teardown runs the onDisconnect cascade: deregister from the Manager
// and, if a player was bound, enqueue a detach request on that
// player's queue.
func (s *Session) teardown(ctx context.Context) {
	s.Close()
	s.l.sessions.onClose(s)

	player := s.Player()
	if player == "" {
		return
	}
	s.l.sessions.unbindPlayer(player, s)

	handler := s.l.onDisconnect
	if handler == nil {
		return
	}
	_ = s.l.queues.For(player).Push(func(ctx context.Context) (any, error) {
		return nil, handler(ctx, s)
	}, func(result any, err error) {
		if err != nil {
			s.l.log.Error("onDisconnect request failed", "player", player, "error", err)
		}
	}, false)
}
