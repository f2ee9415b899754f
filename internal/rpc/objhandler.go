package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/queue"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Method is one callable entity function the scripting layer exposes by
// name: it receives the resolved callee and the caller's positional
// args, already running on the callee's own request queue.
type Method func(ctx context.Context, obj objref.AttrObject, args []any) (any, error)

// MethodRegistry maps function names to Methods for the "obj" call op.
// The gameplay layer registers its entity functions here at startup.
type MethodRegistry struct {
	mu  sync.RWMutex
	fns map[string]Method
}

// NewMethodRegistry allocates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{fns: make(map[string]Method)}
}

// Register binds fn to name, overwriting any previous binding.
func (r *MethodRegistry) Register(name string, fn Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

func (r *MethodRegistry) get(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// QueueManager is the narrow slice of internal/queue's Manager ObjHandler
// needs: the per-TSID FIFO queue that runs the call bound to a freshly
// allocated Request Context. internal/queue.Manager satisfies this, so
// this package never needs anything else from it.
type QueueManager interface {
	For(id tsid.TSID) *queue.Queue
}

// ObjHandler builds the server-side "obj" Handler: the single generic
// entry point a peer shard's Proxy calls through to read or mutate an
// entity this shard owns. Every call runs on tsid's own request queue,
// in the request context of the callee, so a remote SetAttr/DeleteAttr marks
// the entity dirty through the same reqctx-bound path a local request
// would, and commits through the same persistence gateway on success.
// It depends only on objref.Resolver, which internal/cache.Cache
// satisfies, so this package never needs to import the cache package
// directly.
// methods may be nil when the shard exposes no callable entity
// functions; the attribute ops still work.
func ObjHandler(resolver objref.Resolver, queues QueueManager, methods *MethodRegistry) Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var p objParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("rpc: bad obj params: %w", err)
		}
		id := tsid.TSID(p.TSID)

		type outcome struct {
			res objResult
			err error
		}
		done := make(chan outcome, 1)

		pushErr := queues.For(id).Push(func(ctx context.Context) (any, error) {
			obj, err := resolver.Resolve(ctx, id)
			if err != nil {
				return nil, err
			}

			switch p.Op {
			case "isDeleted":
				return objResult{Value: obj.IsDeleted()}, nil
			case "get":
				val, present, err := obj.GetAttr(ctx, p.Name)
				if err != nil {
					return nil, err
				}
				return objResult{Value: val, Present: present}, nil
			case "set":
				if err := obj.SetAttr(ctx, p.Name, p.Value); err != nil {
					return nil, err
				}
				return objResult{}, nil
			case "delete":
				if err := obj.DeleteAttr(ctx, p.Name); err != nil {
					return nil, err
				}
				return objResult{}, nil
			case "keys":
				keys, err := obj.Keys(ctx)
				if err != nil {
					return nil, err
				}
				return objResult{Keys: keys}, nil
			case "call":
				if methods == nil {
					return nil, fmt.Errorf("rpc: no entity methods registered")
				}
				fn, ok := methods.get(p.Name)
				if !ok {
					return nil, fmt.Errorf("rpc: unknown entity method %q", p.Name)
				}
				val, err := fn(ctx, obj, p.Args)
				if err != nil {
					return nil, err
				}
				// A method that produced nothing reports value:null.
				return objResult{Value: val}, nil
			default:
				return nil, fmt.Errorf("rpc: unknown obj op %q", p.Op)
			}
		}, func(result any, err error) {
			res, _ := result.(objResult)
			done <- outcome{res: res, err: err}
		}, false)
		if pushErr != nil {
			return nil, pushErr
		}

		select {
		case o := <-done:
			if o.err != nil {
				return nil, o.err
			}
			return o.res, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
