package objref

import (
	"reflect"

	"github.com/udisondev/shardrealm/internal/tsid"
)

// Referencable is implemented by a live entity that can appear directly
// (not behind a Proxy) inside a nested data body — e.g. a Location's
// paired Geometry, stored as a direct pointer because the two always
// share a shard. Refify converts these back to minimal Ref records just
// like it does for Proxy, skipping ones flagged deleted.
type Referencable interface {
	TSID() tsid.TSID
	IsDeleted() bool
}

// Proxify walks root (a tree of map[string]any / []any, as produced by
// JSON-unmarshaling a persisted entity body) and replaces every objref
// record with a *Proxy bound to r, in place where possible. Tolerates
// cyclic structures via a visited set keyed by the container's identity.
func Proxify(root any, r Resolver) any {
	return proxifyValue(root, r, make(map[uintptr]bool))
}

func proxifyValue(v any, r Resolver, seen map[uintptr]bool) any {
	switch t := v.(type) {
	case map[string]any:
		ptr := identity(t)
		if ptr != 0 && seen[ptr] {
			return t
		}
		seen[ptr] = true
		if ref, ok := IsObjRefMap(t); ok {
			return NewProxy(ref, r)
		}
		for k, val := range t {
			t[k] = proxifyValue(val, r, seen)
		}
		return t
	case []any:
		ptr := identity(t)
		if ptr != 0 && seen[ptr] {
			return t
		}
		seen[ptr] = true
		for i, val := range t {
			t[i] = proxifyValue(val, r, seen)
		}
		return t
	default:
		return v
	}
}

// Refify is the inverse of Proxify: it walks root and reduces every
// *Proxy or Referencable live-entity reference to its minimal
// {objref:true, tsid, label?} shape.
//
//   - Unresolved proxies are never resolved just to be refified — their
//     stored Ref is emitted directly.
//   - A plain map that merely happens to carry a "tsid" key (but is not
//     itself a Proxy/Referencable) is walked structurally and left alone.
//   - A Referencable flagged deleted is skipped entirely (omitted from
//     maps, dropped from slices).
func Refify(root any) any {
	out, _ := refifyValue(root, make(map[uintptr]bool))
	return out
}

// refifyValue returns (value, keep). keep is false when the node must be
// omitted from its parent container (deleted entity reference).
func refifyValue(v any, seen map[uintptr]bool) (any, bool) {
	switch t := v.(type) {
	case *Proxy:
		return t.Ref().AsMap(), true
	case Referencable:
		if t.IsDeleted() {
			return nil, false
		}
		return Ref{TSID: t.TSID()}.AsMap(), true
	case map[string]any:
		ptr := identity(t)
		if ptr != 0 && seen[ptr] {
			return t, true
		}
		seen[ptr] = true
		out := make(map[string]any, len(t))
		for k, val := range t {
			if rv, keep := refifyValue(val, seen); keep {
				out[k] = rv
			}
		}
		return out, true
	case []any:
		ptr := identity(t)
		if ptr != 0 && seen[ptr] {
			return t, true
		}
		seen[ptr] = true
		out := make([]any, 0, len(t))
		for _, val := range t {
			if rv, keep := refifyValue(val, seen); keep {
				out = append(out, rv)
			}
		}
		return out, true
	default:
		return v, true
	}
}

// identity returns the underlying data pointer of a map or slice for
// cycle detection. Empty containers have no backing storage and return 0,
// which is harmless: they can't recurse into themselves anyway.
func identity(v any) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Pointer()
	default:
		return 0
	}
}
