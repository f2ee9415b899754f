package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// State is the client connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

type pending struct {
	resultCh chan Response
	deadline time.Time
}

// Client is one persistent connection to a peer shard's RPC server.
// A dropped connection enters StateReconnecting for ReconnectBuffer,
// during which calls block waiting for the retry instead of failing
// immediately; once that window closes, calls fail fast with
// ConnectionUnavailable.
type Client struct {
	id              string // connection id, for logging
	shardID         string
	dial            func(ctx context.Context) (net.Conn, error)
	timeout         time.Duration
	reconnectBuffer time.Duration
	sweepEvery      time.Duration
	log             *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	conn    net.Conn
	nextID  uint64
	pending map[uint64]*pending

	reconnectDeadline atomic.Int64 // unix nanos; 0 means not reconnecting
	closed            atomic.Bool
}

// NewClient builds a Client that dials shardID via dial on demand. dial
// is injected rather than baked in so tests can substitute an in-memory
// pipe.
func NewClient(shardID string, dial func(ctx context.Context) (net.Conn, error), timeout, reconnectBuffer, sweepEvery time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		id:              uuid.NewString(),
		shardID:         shardID,
		dial:            dial,
		timeout:         timeout,
		reconnectBuffer: reconnectBuffer,
		sweepEvery:      sweepEvery,
		log:             log,
		pending:         make(map[uint64]*pending),
	}
	go c.sweepLoop()
	return c
}

// State returns the client's current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Start establishes the initial connection and begins the read loop.
// Call this once after construction; Call will also lazily connect on
// first use if Start was never called.
func (c *Client) Start(ctx context.Context) error {
	return c.ensureConnected(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.closed.Load() {
		return &shardrealmerr.ConnectionUnavailable{ShardID: c.shardID}
	}

	c.state.Store(int32(StateConnecting))
	conn, err := c.dial(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("rpc: dial %s: %w", c.shardID, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.reconnectDeadline.Store(0)
	c.state.Store(int32(StateConnected))
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	for {
		var resp Response
		if err := readFrame(conn, &resp); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.mu.Lock()
		p, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			p.resultCh <- resp
		}
	}
}

func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	if c.closed.Load() {
		return
	}

	c.log.Warn("rpc connection lost, entering reconnect window", "shard", c.shardID, "error", cause)
	c.state.Store(int32(StateReconnecting))
	c.reconnectDeadline.Store(time.Now().Add(c.reconnectBuffer).UnixNano())
}

// Call issues method with params and blocks for a response, a
// RpcTimeout, or a ConnectionUnavailable once the reconnect window
// closes.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.awaitConnected(ctx); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params: %w", err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	p := &pending{resultCh: make(chan Response, 1), deadline: time.Now().Add(c.timeout)}
	c.pending[id] = p
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, &shardrealmerr.ConnectionUnavailable{ShardID: c.shardID}
	}
	if err := writeFrame(conn, Request{ID: id, Method: method, Params: raw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc: write request: %w", err)
	}

	select {
	case resp := <-p.resultCh:
		if resp.Error != nil {
			return nil, &shardrealmerr.RemoteError{Code: resp.Error.Code, Message: resp.Error.Message, Stack: resp.Error.Stack}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &shardrealmerr.RpcTimeout{Method: method}
	}
}

// SendObjRequest invokes functionName on the entity id owns, in the
// request context of the callee shard, returning the function's result
// (nil if the function produced nothing).
func (c *Client) SendObjRequest(ctx context.Context, id tsid.TSID, functionName string, args []any) (any, error) {
	raw, err := c.Call(ctx, "obj", objParams{TSID: string(id), Op: "call", Name: functionName, Args: args})
	if err != nil {
		return nil, err
	}
	var res objResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal obj result: %w", err)
	}
	return res.Value, nil
}

// SendAPIRequest invokes the peer shard's global script-layer function
// functionName with args.
func (c *Client) SendAPIRequest(ctx context.Context, functionName string, args []any) (any, error) {
	raw, err := c.Call(ctx, "api", apiParams{Fn: functionName, Args: args})
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal api result: %w", err)
	}
	return out, nil
}

func (c *Client) withinReconnectWindow() bool {
	deadline := c.reconnectDeadline.Load()
	return deadline != 0 && time.Now().UnixNano() < deadline
}

// reconnectRetryInterval paces awaitConnected's retry loop while a
// connection drop is within its reconnect window — frequent enough
// that a call resumes close to the moment the peer accepts dials
// again, without busy-looping.
const reconnectRetryInterval = 50 * time.Millisecond

// awaitConnected blocks Call while the client is StateReconnecting,
// standing in for an outbound buffer during the reconnect window:
// rather than queuing the call's bytes and replaying them once
// reconnected, the caller's own goroutine parks
// here and retries the dial until either a connection succeeds, the
// reconnect window closes, or ctx is done. Concurrent callers that
// park this way and later unblock together are not replayed in strict
// arrival order — see DESIGN.md for why a literal FIFO replay queue
// was not built.
func (c *Client) awaitConnected(ctx context.Context) error {
	for {
		err := c.ensureConnected(ctx)
		if err == nil {
			return nil
		}
		if c.closed.Load() || !c.withinReconnectWindow() {
			return &shardrealmerr.ConnectionUnavailable{ShardID: c.shardID}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectRetryInterval):
		}
	}
}

// sweepLoop periodically fails any pending call whose deadline has
// passed, covering the case where the connection silently stalls
// without a read error.
func (c *Client) sweepLoop() {
	interval := c.sweepEvery
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.mu.Lock()
		for id, p := range c.pending {
			if now.After(p.deadline) {
				delete(c.pending, id)
				select {
				case p.resultCh <- Response{ID: id, Error: &WireError{Code: shardrealmerr.CodeInternalError, Message: "Request Timed Out"}}:
				default:
				}
			}
		}
		c.mu.Unlock()
	}
}

// Close shuts the client down and closes its connection. Calls still
// pending are not failed by Close; each ends on its own timeout or
// context.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
