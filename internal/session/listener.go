package session

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/udisondev/shardrealm/internal/authplugin"
	"github.com/udisondev/shardrealm/internal/cache"
	"github.com/udisondev/shardrealm/internal/queue"
	"github.com/udisondev/shardrealm/internal/wirecrypt"
)

// Listener accepts client connections and wires each one into a Session
// bound to the request engine, the live-object cache, and the auth
// registry — the client-facing half of a shard process.
type Listener struct {
	queues     *queue.Manager
	cache      *cache.Cache
	auth       *authplugin.Registry
	authModule string
	hooks      cache.ScriptHost
	sessions   *Manager

	maxMsgSize    int
	cipher        *wirecrypt.Cipher
	writeTimeout  time.Duration
	sendQueueSize int
	log           *slog.Logger

	handlers     map[string]Handler
	onDisconnect func(ctx context.Context, sess *Session) error
}

// Config carries the tunables a deployment may want to override. Zero
// SendQueueSize and WriteTimeout fall back to the defaults in
// session.go; a zero MaxMsgSize disables the frame size check.
type Config struct {
	MaxMsgSize    int
	Cipher        *wirecrypt.Cipher
	WriteTimeout  time.Duration
	SendQueueSize int
	Log           *slog.Logger
}

// NewListener wires a Listener to its dependencies and registers the
// built-in login_end handler and disconnect cascade. Additional
// gameplay handlers are added afterward with Handle.
func NewListener(qm *queue.Manager, c *cache.Cache, auth *authplugin.Registry, authModule string, hooks cache.ScriptHost, cfg Config) *Listener {
	if hooks == nil {
		hooks = cache.NopHooks{}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	l := &Listener{
		queues:        qm,
		cache:         c,
		auth:          auth,
		authModule:    authModule,
		hooks:         hooks,
		sessions:      NewManager(),
		maxMsgSize:    cfg.MaxMsgSize,
		cipher:        cfg.Cipher,
		writeTimeout:  cfg.WriteTimeout,
		sendQueueSize: cfg.SendQueueSize,
		log:           log,
		handlers:      make(map[string]Handler),
	}
	l.Handle("login_end", LoginEnd(qm, c, hooks))
	l.onDisconnect = onDisconnect(qm, c, hooks)
	return l
}

// Handle registers h under msgType, overwriting any previous handler.
func (l *Listener) Handle(msgType string, h Handler) {
	l.handlers[msgType] = h
}

func (l *Listener) handlerFor(msgType string) (Handler, bool) {
	h, ok := l.handlers[msgType]
	return h, ok
}

// Sessions returns the Listener's session registry, used by the
// outbound diff flush to resolve a player's live connection.
func (l *Listener) Sessions() *Manager { return l.sessions }

// Serve accepts connections on ln until it returns an error, typically
// because ln was closed during shutdown.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		sess := newSession(uuid.NewString(), conn, l)
		l.sessions.register(sess)
		go sess.serve(ctx)
	}
}
