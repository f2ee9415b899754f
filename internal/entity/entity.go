// Package entity implements the persisted Entity and its variants:
// Location, Geometry, Item, Bag, Player, Group, Quest, and
// DataContainer. Every mutator takes the ambient context.Context carrying
// the bound Request Context (internal/reqctx) and marks itself dirty
// there — mutation is only ever legal inside a request, never directly
// from network code.
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Entity is the common shape the Live-Object Cache, Request Engine, and
// objref resolver all depend on: a stable identity, the deleted/stale
// transient flags, a JSON-shaped attribute protocol for objref targets,
// and the ability to serialize itself back to a persisted body.
type Entity interface {
	TSID() tsid.TSID
	Type() tsid.Tag
	IsDeleted() bool
	IsStale() bool
	LastModified() time.Time

	GetAttr(ctx context.Context, name string) (any, bool, error)
	SetAttr(ctx context.Context, name string, val any) error
	DeleteAttr(ctx context.Context, name string) error
	Keys(ctx context.Context) ([]string, error)

	Serialize() (map[string]any, error)
}

// Base holds the fields common to every Entity variant: the immutable
// tsid, the type tag, the transient deleted/stale flags, and a
// last-modified timestamp. Variants embed Base
// and add their own typed fields; anything not worth a typed field lives
// in Base's opaque extension map, which is what objref's generic
// attribute protocol falls back to.
type Base struct {
	id           tsid.TSID
	typ          tsid.Tag
	deleted      bool
	stale        bool
	lastModified time.Time
	ext          map[string]any
}

// NewBase allocates the common fields for a freshly minted or loaded
// entity.
func NewBase(id tsid.TSID) Base {
	return Base{
		id:           id,
		typ:          id.Tag(),
		lastModified: time.Now(),
		ext:          make(map[string]any),
	}
}

func (b *Base) TSID() tsid.TSID { return b.id }
func (b *Base) Type() tsid.Tag { return b.typ }
func (b *Base) IsDeleted() bool { return b.deleted }
func (b *Base) IsStale() bool { return b.stale }
func (b *Base) LastModified() time.Time { return b.lastModified }

// MarkDeleted flips the transient deleted flag. Called by Del;
// persistence removal and cache eviction happen at commit.
func (b *Base) MarkDeleted() { b.deleted = true }

// MarkStale flags an entity whose in-memory copy may no longer match the
// backing store (e.g. a load raced a concurrent remote write). The cache
// never evicts on staleness alone — it's advisory, surfaced to callers
// that care.
func (b *Base) MarkStale() { b.stale = true }

// Touch updates the last-modified timestamp. Called by every mutator.
func (b *Base) Touch() { b.lastModified = time.Now() }

// GetExt/SetExt/DeleteExt/ExtKeys back the opaque extension body that
// objref's generic attribute protocol falls through to once a variant's
// typed-field switch misses.
func (b *Base) GetExt(name string) (any, bool) {
	v, ok := b.ext[name]
	return v, ok
}

func (b *Base) SetExt(name string, v any) { b.ext[name] = v }

func (b *Base) DeleteExt(name string) { delete(b.ext, name) }

func (b *Base) ExtKeys() []string {
	keys := make([]string, 0, len(b.ext))
	for k := range b.ext {
		keys = append(keys, k)
	}
	return keys
}

// ExtAll returns a shallow copy of the extension map, for Serialize.
func (b *Base) ExtAll() map[string]any {
	out := make(map[string]any, len(b.ext))
	for k, v := range b.ext {
		out[k] = v
	}
	return out
}

// loadExt replaces the extension map wholesale — used when reconstructing
// an entity from a persisted body.
func (b *Base) loadExt(m map[string]any) {
	if m == nil {
		b.ext = make(map[string]any)
		return
	}
	b.ext = m
}

// setDirty marks obj dirty in the ambient Request Context, panicking if
// ctx carries none — mutation outside a request is a programmer error.
func setDirty(ctx context.Context, obj reqctx.Object) {
	reqctx.MustFromContext(ctx).SetDirty(obj)
}

// NewByTag dispatches on a TSID's type tag to allocate the correct zero
// entity. Cache.Create uses it for new entities; the cache's load path
// builds entities through the per-type Deserialize* functions instead.
func NewByTag(id tsid.TSID) (Entity, error) {
	switch id.Tag() {
	case tsid.TagLocation:
		return NewLocation(id), nil
	case tsid.TagGeometry:
		return NewGeometry(id), nil
	case tsid.TagPlayer:
		return NewPlayer(id), nil
	case tsid.TagItem:
		return NewItem(id), nil
	case tsid.TagBag:
		return NewBag(id), nil
	case tsid.TagGroup:
		return NewGroup(id), nil
	case tsid.TagQuest:
		return NewQuest(id), nil
	case tsid.TagDataContainer:
		return NewDataContainer(id), nil
	default:
		return nil, fmt.Errorf("entity: unknown type tag %q for tsid %s", id.Tag(), id)
	}
}
