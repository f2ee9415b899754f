// Package cache implements the Live-Object Cache: a process-wide,
// shard-scoped map from TSID to live Entity, consulted
// through a three-tier lookup (RC-local, process-wide, then a load from
// persistence or a remote shard) every time an objref proxy or a top-
// level request resolves a TSID.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// ShardRouter is the narrow slice of internal/shard's Router the cache
// needs: which shard owns a TSID, and which shard this process is.
type ShardRouter interface {
	MapToShard(id tsid.TSID) string
	LocalShardID() string
}

// RemoteLoader is satisfied by internal/rpc's client: it reaches across
// the wire to the shard owning id and returns an attribute-protocol
// handle to it, without pulling internal/rpc into this package's import
// graph.
type RemoteLoader interface {
	ObjectOn(ctx context.Context, shardID string, id tsid.TSID) (objref.AttrObject, error)
}

// Cache is the process-wide Live-Object Cache for one shard.
type Cache struct {
	gw     persistence.Gateway
	router ShardRouter
	remote RemoteLoader
	hooks  ScriptHost
	log    *slog.Logger

	live sync.Map // tsid.TSID -> entity.Entity
}

// New wires a Cache to its persistence backend, shard router, and
// optional remote loader / script hooks. remote may be nil in a
// single-shard deployment; hooks defaults to NopHooks when nil.
func New(gw persistence.Gateway, router ShardRouter, remote RemoteLoader, hooks ScriptHost, log *slog.Logger) *Cache {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{gw: gw, router: router, remote: remote, hooks: hooks, log: log}
}

var _ objref.Resolver = (*Cache)(nil)

// Resolve implements objref.Resolver, so a Cache can back every proxy in
// the process.
func (c *Cache) Resolve(ctx context.Context, id tsid.TSID) (objref.AttrObject, error) {
	return c.Get(ctx, id)
}

// Get loads id through the three-tier lookup: the ambient Request
// Context's local cache, the process-wide live map, then a backing
// load (persistence for locally-owned TSIDs, RPC for remote ones).
func (c *Cache) Get(ctx context.Context, id tsid.TSID) (entity.Entity, error) {
	rc, _ := reqctx.FromContext(ctx)

	if rc != nil {
		if obj, ok := rc.CacheGet(id); ok {
			if e, ok := obj.(entity.Entity); ok {
				return e, nil
			}
		}
	}

	if v, ok := c.live.Load(id); ok {
		e := v.(entity.Entity)
		if rc != nil {
			rc.CachePut(e)
		}
		return e, nil
	}

	if c.router == nil {
		return c.load(ctx, rc, id, nil)
	}

	owner, body, err := c.resolveOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != c.router.LocalShardID() {
		return c.getRemote(ctx, rc, owner, id)
	}
	return c.load(ctx, rc, id, body)
}

// resolveOwner determines which shard owns id. Location, Geometry, and
// Group TSIDs hash directly; Player, Item/Bag, and Quest/DataContainer
// TSIDs derive their shard from a location/container/owner backref,
// read from persistence and resolved transitively until a top-level
// (directly-hashed) TSID is reached. When that read ends up being id's
// own persisted body, it is returned alongside so a subsequent local
// load doesn't read it twice.
func (c *Cache) resolveOwner(ctx context.Context, id tsid.TSID) (string, map[string]any, error) {
	switch id.Tag() {
	case tsid.TagLocation, tsid.TagGeometry, tsid.TagGroup:
		return c.router.MapToShard(id), nil, nil
	case tsid.TagPlayer:
		return c.derivedOwner(ctx, id, "location")
	case tsid.TagItem, tsid.TagBag:
		return c.derivedOwner(ctx, id, "container")
	case tsid.TagQuest, tsid.TagDataContainer:
		return c.derivedOwner(ctx, id, "owner")
	default:
		return c.router.MapToShard(id), nil, nil
	}
}

// derivedOwner reads id's own persisted body to find its backref field
// (location/container/owner) and resolves ownership transitively: a
// player's shard is its current location's shard, an item/bag's shard
// is its top container's shard, a quest/data container's shard is its
// owner's shard. If the backref target already resides in
// this process's live cache, it is necessarily local (the cache only
// ever holds locally-owned entities), short-circuiting the recursion.
func (c *Cache) derivedOwner(ctx context.Context, id tsid.TSID, field string) (string, map[string]any, error) {
	body, err := c.gw.Read(ctx, id)
	if err != nil {
		return "", nil, &shardrealmerr.PersistenceError{TSID: string(id), Op: "read", Err: err}
	}
	if body == nil {
		return "", nil, &shardrealmerr.NotFound{TSID: string(id)}
	}

	ref, ok := body[field].(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("cache: %s missing %q backref", id, field)
	}
	backrefID, ok := ref["tsid"].(string)
	if !ok {
		return "", nil, fmt.Errorf("cache: %s has malformed %q backref", id, field)
	}

	if _, ok := c.live.Load(tsid.TSID(backrefID)); ok {
		return c.router.LocalShardID(), body, nil
	}
	owner, _, err := c.resolveOwner(ctx, tsid.TSID(backrefID))
	if err != nil {
		return "", nil, err
	}
	return owner, body, nil
}

func (c *Cache) getRemote(ctx context.Context, rc *reqctx.Context, shardID string, id tsid.TSID) (entity.Entity, error) {
	if c.remote == nil {
		return nil, &shardrealmerr.ConnectionUnavailable{ShardID: shardID}
	}
	obj, err := c.remote.ObjectOn(ctx, shardID, id)
	if err != nil {
		return nil, err
	}
	e, ok := obj.(entity.Entity)
	if !ok {
		return nil, fmt.Errorf("cache: remote object for %s is not an entity.Entity", id)
	}
	if rc != nil {
		rc.CachePut(e)
	}
	return e, nil
}

// load instantiates id from body, reading it from persistence first if
// body is nil — resolveOwner may already have read id's own body while
// determining its owning shard, in which case it's passed straight
// through here instead of being fetched twice.
func (c *Cache) load(ctx context.Context, rc *reqctx.Context, id tsid.TSID, body map[string]any) (entity.Entity, error) {
	if body == nil {
		b, err := c.gw.Read(ctx, id)
		if err != nil {
			return nil, &shardrealmerr.PersistenceError{TSID: string(id), Op: "read", Err: err}
		}
		if b == nil {
			return nil, &shardrealmerr.NotFound{TSID: string(id)}
		}
		body = b
	}

	e, err := deserialize(id, body, c)
	if err != nil {
		return nil, err
	}

	c.live.Store(id, e)
	if rc != nil {
		rc.CachePut(e)
	}
	if err := c.hooks.OnLoad(ctx, e); err != nil {
		logHookErr(c.log, "OnLoad", string(id), err)
	}
	return e, nil
}

// Create allocates a new entity for the caller-supplied id (its variant
// chosen by id's tag). It does not mint a TSID: an empty or malformed id
// is rejected by NewByTag. It refuses an id that is already resident, registers
// it process-wide and in the request's local cache, marks it dirty for
// the next commit, and fires OnCreate.
func (c *Cache) Create(ctx context.Context, id tsid.TSID) (entity.Entity, error) {
	rc := reqctx.MustFromContext(ctx)

	e, err := entity.NewByTag(id)
	if err != nil {
		return nil, err
	}

	if _, loaded := c.live.LoadOrStore(id, e); loaded {
		return nil, fmt.Errorf("cache: tsid %s already resident, refusing to create", id)
	}
	rc.CachePut(e)
	if obj, ok := e.(reqctx.Object); ok {
		rc.SetDirty(obj)
	}
	if err := c.hooks.OnCreate(ctx, e); err != nil {
		logHookErr(c.log, "OnCreate", string(id), err)
	}
	return e, nil
}

// Evict removes id from the process-wide live map — called once a
// request's unload set commits successfully.
func (c *Cache) Evict(id tsid.TSID) {
	c.live.Delete(id)
}

// Range iterates every entity currently resident in the process-wide
// live map, stopping early if fn returns false — mirroring sync.Map's
// own Range contract. Used by the location-unload sweep
// to enumerate candidate locations without a second index.
func (c *Cache) Range(fn func(id tsid.TSID, e entity.Entity) bool) {
	c.live.Range(func(k, v any) bool {
		return fn(k.(tsid.TSID), v.(entity.Entity))
	})
}

// Peek returns the process-wide resident entity for id without touching
// persistence, the request-local cache, or remote shards — used by
// diagnostics and the location-unload sweep.
func (c *Cache) Peek(id tsid.TSID) (entity.Entity, bool) {
	v, ok := c.live.Load(id)
	if !ok {
		return nil, false
	}
	return v.(entity.Entity), true
}

func deserialize(id tsid.TSID, body map[string]any, r objref.Resolver) (entity.Entity, error) {
	switch id.Tag() {
	case tsid.TagLocation:
		return entity.DeserializeLocation(id, body)
	case tsid.TagGeometry:
		return entity.DeserializeGeometry(id, body, r)
	case tsid.TagPlayer:
		return entity.DeserializePlayer(id, body, r)
	case tsid.TagItem:
		return entity.DeserializeItem(id, body, r)
	case tsid.TagBag:
		return entity.DeserializeBag(id, body, r)
	case tsid.TagGroup:
		return entity.DeserializeGroup(id, body, r)
	case tsid.TagQuest:
		return entity.DeserializeQuest(id, body, r)
	case tsid.TagDataContainer:
		return entity.DeserializeDataContainer(id, body, r)
	default:
		return nil, fmt.Errorf("cache: unknown type tag %q for tsid %s", id.Tag(), id)
	}
}
