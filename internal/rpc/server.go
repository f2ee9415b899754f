package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
)

// Handler answers one RPC method call, returning a JSON-marshalable
// result or an error. Application errors are reported back to the
// caller as shardrealmerr.RemoteError; the server never
// lets a handler panic take the whole listener down.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server accepts shard-to-shard connections and dispatches each request
// frame to a registered Handler by method name.
type Server struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer allocates a Server with no handlers registered.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, handlers: make(map[string]Handler)}
}

// Handle registers h under method, overwriting any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed during shutdown).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			var protoErr *shardrealmerr.ProtocolError
			if errors.As(err, &protoErr) {
				// The peer sent bytes that framed but didn't decode; tell
				// it so before dropping the connection.
				_ = writeFrame(conn, Response{Error: &WireError{
					Code:    shardrealmerr.CodeParseError,
					Message: "Did not receive valid JSON-RPC data",
				}})
				log.Warn("closing rpc connection on protocol error", "error", err)
			} else if !errors.Is(err, io.EOF) {
				log.Debug("rpc connection closed", "error", err)
			}
			return
		}
		go s.handleOne(ctx, conn, log, req)
	}
}

func (s *Server) handleOne(ctx context.Context, conn net.Conn, log *slog.Logger, req Request) {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	resp := Response{ID: req.ID}
	if !ok {
		resp.Error = &WireError{Code: shardrealmerr.CodeMethodNotFound, Message: "Requested method does not exist"}
	} else {
		result, err := s.invoke(ctx, h, req.Params, log)
		if err != nil {
			resp.Error = toWireError(err)
		} else {
			raw, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = &WireError{Code: shardrealmerr.CodeInternalError, Message: merr.Error()}
			} else {
				resp.Result = raw
			}
		}
	}

	if err := writeFrame(conn, resp); err != nil {
		log.Warn("rpc write response failed", "error", err)
	}
}

// invoke calls h, recovering a panic into a RemoteError so one bad
// handler never takes the process down (each request runs on its own
// goroutine, where an unrecovered panic would be fatal).
func (s *Server) invoke(ctx context.Context, h Handler, params json.RawMessage, log *slog.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("rpc handler panicked", "panic", r)
			err = &shardrealmerr.RemoteError{Code: shardrealmerr.CodeInternalError, Message: "internal error"}
		}
	}()
	return h(ctx, params)
}

func toWireError(err error) *WireError {
	if re, ok := err.(*shardrealmerr.RemoteError); ok {
		return &WireError{Code: re.Code, Message: re.Message, Stack: re.Stack}
	}
	return &WireError{Code: shardrealmerr.CodeApplicationError, Message: err.Error()}
}
