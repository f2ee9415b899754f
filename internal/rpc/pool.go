package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/udisondev/shardrealm/internal/shard"
)

// Pool lazily dials and caches one Client per peer shard, keyed off the
// shard table's host/RPC-port entries — the production Dialer used by
// Proxy.
type Pool struct {
	router          *shard.Router
	timeout         time.Duration
	reconnectBuffer time.Duration
	sweepEvery      time.Duration
	log             *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

var _ Dialer = (*Pool)(nil)

// NewPool builds a Pool resolving peer addresses through router.
func NewPool(router *shard.Router, timeout, reconnectBuffer, sweepEvery time.Duration, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		router:          router,
		timeout:         timeout,
		reconnectBuffer: reconnectBuffer,
		sweepEvery:      sweepEvery,
		log:             log,
		clients:         make(map[string]*Client),
	}
}

// ClientFor returns the (lazily created) Client connected to shardID.
func (p *Pool) ClientFor(shardID string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[shardID]; ok {
		return c, nil
	}
	entry, ok := p.router.Entry(shardID)
	if !ok {
		return nil, fmt.Errorf("rpc: unknown shard id %q", shardID)
	}
	addr := fmt.Sprintf("%s:%d", entry.Host, entry.RPCPort)
	dial := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	}
	c := NewClient(shardID, dial, p.timeout, p.reconnectBuffer, p.sweepEvery, p.log)
	p.clients[shardID] = c
	return c, nil
}

// CloseAll shuts down every pooled client.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		_ = c.Close()
	}
}
