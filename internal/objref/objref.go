// Package objref implements the lazy cross-entity reference: a
// persisted {objref:true, tsid} record, and the resolver proxy that
// wraps it and loads its target on first attribute access.
//
// The source language lets a proxy intercept arbitrary property reads.
// Go has no such interception, so the proxy here exposes an explicit
// attribute protocol (GetAttr/SetAttr/DeleteAttr/Keys/Has) instead of
// magic field access. Construction or invocation beyond this fixed
// method set is simply not expressible on *Proxy, which is the Go
// equivalent of "construction or invocation on a proxy is an error".
package objref

import (
	"context"
	"sync"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Ref is the persisted placeholder record standing in for a reference to
// another entity without eagerly loading it.
type Ref struct {
	TSID  tsid.TSID `json:"tsid"`
	Label string    `json:"label,omitempty"`
}

// IsObjRefMap reports whether m decodes a persisted Ref (used while
// walking freshly-unmarshaled JSON trees during Proxify).
func IsObjRefMap(m map[string]any) (Ref, bool) {
	flag, ok := m["objref"].(bool)
	if !ok || !flag {
		return Ref{}, false
	}
	idStr, ok := m["tsid"].(string)
	if !ok {
		return Ref{}, false
	}
	ref := Ref{TSID: tsid.TSID(idStr)}
	if label, ok := m["label"].(string); ok {
		ref.Label = label
	}
	return ref, true
}

// AsMap renders ref back to its persisted shape.
func (r Ref) AsMap() map[string]any {
	m := map[string]any{"objref": true, "tsid": string(r.TSID)}
	if r.Label != "" {
		m["label"] = r.Label
	}
	return m
}

// AttrObject is implemented by anything a Proxy can resolve to: the
// loaded entity's own attribute protocol. Entity variants implement
// this over their typed fields plus any opaque extension body.
type AttrObject interface {
	TSID() tsid.TSID
	IsDeleted() bool
	GetAttr(ctx context.Context, name string) (any, bool, error)
	SetAttr(ctx context.Context, name string, val any) error
	DeleteAttr(ctx context.Context, name string) error
	Keys(ctx context.Context) ([]string, error)
}

// Resolver loads an entity by TSID within the current request — normally
// the live-object cache, which may in turn cross shards via RPC.
type Resolver interface {
	Resolve(ctx context.Context, id tsid.TSID) (AttrObject, error)
}

// Proxy is a lazy handle wrapping a Ref. It resolves its target on first
// access to any attribute other than "tsid"/"label".
type Proxy struct {
	ref      Ref
	resolver Resolver

	mu         sync.Mutex
	resolved   AttrObject
	resolveErr error
}

// NewProxy wraps ref in a resolver proxy bound to r.
func NewProxy(ref Ref, r Resolver) *Proxy {
	return &Proxy{ref: ref, resolver: r}
}

// TSID returns the wrapped TSID without resolving.
func (p *Proxy) TSID() tsid.TSID { return p.ref.TSID }

// Label returns the stored label, if any, without resolving.
func (p *Proxy) Label() (string, bool) { return p.ref.Label, p.ref.Label != "" }

// Ref returns the underlying placeholder record, unresolved.
func (p *Proxy) Ref() Ref { return p.ref }

// Resolved reports whether the target has already been loaded this
// request, without triggering a load.
func (p *Proxy) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved != nil
}

// Resolve loads (or returns the cached) target. May cross shards via RPC
// through the Resolver.
func (p *Proxy) Resolve(ctx context.Context) (AttrObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved != nil {
		return p.resolved, nil
	}
	if p.resolveErr != nil {
		return nil, p.resolveErr
	}
	obj, err := p.resolver.Resolve(ctx, p.ref.TSID)
	if err != nil {
		wrapped := &shardrealmerr.ObjRefError{TSID: string(p.ref.TSID), Err: err}
		p.resolveErr = wrapped
		return nil, wrapped
	}
	p.resolved = obj
	return obj, nil
}

// GetAttr reads tsid/label directly from the stored Ref; any other
// attribute resolves the target and reads through to it.
func (p *Proxy) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(p.ref.TSID), true, nil
	case "label":
		if p.ref.Label == "" {
			return nil, false, nil
		}
		return p.ref.Label, true, nil
	}
	target, err := p.Resolve(ctx)
	if err != nil {
		return nil, false, err
	}
	return target.GetAttr(ctx, name)
}

// SetAttr always targets the loaded entity.
func (p *Proxy) SetAttr(ctx context.Context, name string, val any) error {
	target, err := p.Resolve(ctx)
	if err != nil {
		return err
	}
	return target.SetAttr(ctx, name, val)
}

// DeleteAttr always targets the loaded entity.
func (p *Proxy) DeleteAttr(ctx context.Context, name string) error {
	target, err := p.Resolve(ctx)
	if err != nil {
		return err
	}
	return target.DeleteAttr(ctx, name)
}

// Keys reflects the loaded entity's own keys (enumeration semantics
// follow the resolved target).
func (p *Proxy) Keys(ctx context.Context) ([]string, error) {
	target, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return target.Keys(ctx)
}

// Has reports whether name is tsid/label, or — once resolved — present
// on the target. Has never triggers a resolve on its own: an unresolved
// proxy reports only the locally-known attrs, matching refify's "must
// not resolve unresolved proxies" rule.
func (p *Proxy) Has(ctx context.Context, name string) bool {
	if name == "tsid" {
		return true
	}
	if name == "label" {
		return p.ref.Label != ""
	}
	if !p.Resolved() {
		return false
	}
	target, err := p.Resolve(ctx)
	if err != nil {
		return false
	}
	keys, err := target.Keys(ctx)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}
