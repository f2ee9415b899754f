// Package rpc implements the shard-to-shard wire protocol: a framed
// JSON-RPC-style request/response exchange used to resolve
// cross-shard objref proxies and ship entity mutations to the shard
// that actually owns an entity.
package rpc

import "encoding/json"

// Request is one call frame: {id, method, params}.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one reply frame: {id, result, error}. Both result and
// error are always present on the wire — a call that produced nothing
// reports result:null, not an absent key.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *WireError      `json:"error"`
}

// WireError is the JSON-RPC-style error shape carried in a Response,
// mirroring the numeric codes in internal/shardrealmerr.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// objParams is the params shape for the "obj" method — the single
// generic entry point for remote attribute-protocol access and
// cross-shard objref resolution.
type objParams struct {
	TSID  string `json:"tsid"`
	Op    string `json:"op"` // "get" | "set" | "delete" | "keys" | "isDeleted" | "call"
	Name  string `json:"name,omitempty"`
	Value any    `json:"value,omitempty"`
	Args  []any  `json:"args,omitempty"` // op "call" only
}

// apiParams is the params shape for the "api" method — a global
// script-layer function call, not addressed to any one entity.
type apiParams struct {
	Fn   string `json:"fn"`
	Args []any  `json:"args,omitempty"`
}

// objResult is the result shape the "obj" method returns.
type objResult struct {
	Value   any      `json:"value"`
	Present bool     `json:"present,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}
