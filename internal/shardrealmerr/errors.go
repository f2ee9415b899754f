// Package shardrealmerr defines the typed error taxonomy shared across
// the runtime. Boundaries such as session framing and login, the cache,
// the request queues and the RPC client report failures with these
// kinds so callers can branch on error identity with errors.As instead
// of string matching.
package shardrealmerr

import "fmt"

// JSON-RPC-style numeric codes reused on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeApplicationError is the generic bucket for RemoteError — the
	// callee's own application code, not a protocol fault.
	CodeApplicationError = -32000
)

// ProtocolError signals a malformed frame, oversize payload, or
// undeserializable body. The session layer closes the connection after
// reporting it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }

// AuthError signals an invalid or expired token. The session receives an
// error response and is closed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error: %s", e.Reason) }

// NotFound signals a TSID absent from both the live cache and the
// persistence backend.
type NotFound struct {
	TSID string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.TSID) }

// ObjRefError signals that a resolver proxy could not load its target.
// Raised synchronously at attribute access.
type ObjRefError struct {
	TSID string
	Err  error
}

func (e *ObjRefError) Error() string {
	return fmt.Sprintf("objref error: could not resolve %s: %v", e.TSID, e.Err)
}

func (e *ObjRefError) Unwrap() error { return e.Err }

// RemoteError wraps an application-level error reported by the callee
// shard over RPC. Bubbled as-is to the caller.
type RemoteError struct {
	Code    int
	Message string
	Stack   string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("remote error %d: %s", e.Code, e.Message) }

// RpcTimeout signals a pending RPC request that aged past the configured
// per-call timeout.
type RpcTimeout struct {
	Method string
}

func (e *RpcTimeout) Error() string { return fmt.Sprintf("request timed out: %s", e.Method) }

// ConnectionUnavailable signals an RPC call attempted after the
// reconnect buffering window closed.
type ConnectionUnavailable struct {
	ShardID string
}

func (e *ConnectionUnavailable) Error() string {
	return fmt.Sprintf("connection unavailable: shard %s", e.ShardID)
}

// PersistenceError signals the back end refused a write or delete. The
// request's onDone reports it; dirty objects remain in memory so the
// caller may retry on the owner queue's next successful commit.
type PersistenceError struct {
	TSID string
	Op   string // "read" | "write" | "del"
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s %s: %v", e.Op, e.TSID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueueClosed signals an enqueue attempted on a queue already draining
// (opts.close=true was set on a prior push).
type QueueClosed struct {
	Owner string
}

func (e *QueueClosed) Error() string { return fmt.Sprintf("queue closed for owner %s", e.Owner) }

// NoRequestContext signals getContext() called outside any request —
// i.e. entity mutation attempted off a request-queue worker goroutine.
type NoRequestContext struct{}

func (e *NoRequestContext) Error() string {
	return "no request context bound to this call — mutations must run inside a request queue task"
}
