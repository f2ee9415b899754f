// Package reqctx implements the Request Context: the per-request ambient
// state — a cache of objects touched this
// request, the monotonically growing dirty set, the unload set, a log
// tag, and the owning work queue.
//
// Go has no implicit thread-local storage, so the ambient binding is
// made explicit: every request closure
// receives a context.Context carrying the bound *Context, and mutator
// methods on entities take that context.Context and call getContext()
// (here, FromContext) themselves before touching the dirty set.
package reqctx

import (
	"context"
	"fmt"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Object is the minimal shape the Request Context needs from anything it
// caches, marks dirty, or schedules for unload.
type Object interface {
	TSID() tsid.TSID
}

type ctxKey struct{}

// Context is the per-request ambient state bound to exactly one queue
// worker invocation. It is not safe for concurrent use — a request is,
// by construction, executed by a single goroutine.
type Context struct {
	owner  tsid.TSID
	tag    string
	local  map[tsid.TSID]Object
	dirty  map[tsid.TSID]Object
	unload map[tsid.TSID]Object
}

// New allocates a fresh Request Context for a queue's owner.
func New(owner tsid.TSID, tag string) *Context {
	return &Context{
		owner:  owner,
		tag:    tag,
		local:  make(map[tsid.TSID]Object),
		dirty:  make(map[tsid.TSID]Object),
		unload: make(map[tsid.TSID]Object),
	}
}

// Bind installs rc as the ambient Request Context for ctx's lifetime.
func Bind(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the ambient Request Context, failing if ctx was
// never produced by Bind — i.e. the call happened outside a request.
func FromContext(ctx context.Context) (*Context, error) {
	rc, ok := ctx.Value(ctxKey{}).(*Context)
	if !ok || rc == nil {
		return nil, &shardrealmerr.NoRequestContext{}
	}
	return rc, nil
}

// MustFromContext is FromContext but panics on failure. Used deep inside
// entity mutators where a missing Request Context is a programmer error,
// not a recoverable condition.
func MustFromContext(ctx context.Context) *Context {
	rc, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return rc
}

// Owner returns the TSID this queue (and therefore this request) is
// rooted at.
func (rc *Context) Owner() tsid.TSID { return rc.owner }

// Tag returns the log identifier for this request.
func (rc *Context) Tag() string { return rc.tag }

// CacheGet returns an object previously registered in this request's
// local cache, if any.
func (rc *Context) CacheGet(id tsid.TSID) (Object, bool) {
	obj, ok := rc.local[id]
	return obj, ok
}

// CachePut registers obj in this request's local cache. Idempotent.
func (rc *Context) CachePut(obj Object) {
	rc.local[obj.TSID()] = obj
}

// SetDirty marks obj as mutated this request. Idempotent — re-adding the
// same TSID does not create duplicate bookkeeping.
func (rc *Context) SetDirty(obj Object) {
	rc.dirty[obj.TSID()] = obj
}

// SetUnload schedules obj for eviction from the live cache after this
// request's commit phase succeeds.
func (rc *Context) SetUnload(obj Object) {
	rc.unload[obj.TSID()] = obj
}

// Dirty returns the dirty set accumulated this request.
func (rc *Context) Dirty() []Object {
	return values(rc.dirty)
}

// Unload returns the unload set accumulated this request.
func (rc *Context) Unload() []Object {
	return values(rc.unload)
}

// Local returns every object this request touched, dirty or not — the
// full local-cache set. PostCommit
// hooks use this to find objects that need flushing for reasons other
// than a persisted mutation, e.g. a player with a pending announcement
// that didn't itself change any property.
func (rc *Context) Local() []Object {
	return values(rc.local)
}

// IsDirty reports whether id has been marked dirty this request.
func (rc *Context) IsDirty(id tsid.TSID) bool {
	_, ok := rc.dirty[id]
	return ok
}

func values(m map[tsid.TSID]Object) []Object {
	out := make([]Object, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// String implements fmt.Stringer for log lines, matching the
// "tag"-keyed slog.With idiom used throughout.
func (rc *Context) String() string {
	return fmt.Sprintf("rc[owner=%s tag=%s dirty=%d unload=%d]", rc.owner, rc.tag, len(rc.dirty), len(rc.unload))
}
