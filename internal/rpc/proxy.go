package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Dialer resolves a shard id to a live Client, dialing lazily and
// reusing the connection across calls.
type Dialer interface {
	ClientFor(shardID string) (*Client, error)
}

// Proxy implements internal/cache's RemoteLoader by issuing "obj" calls
// against the shard that owns a TSID and wrapping the result in a
// remoteEntity — satisfying entity.Entity well enough for the objref
// resolver protocol, without materializing the remote entity's full
// typed state locally.
type Proxy struct {
	dialer Dialer
}

// NewProxy builds a Proxy dispatching through dialer.
func NewProxy(dialer Dialer) *Proxy { return &Proxy{dialer: dialer} }

// ObjectOn satisfies internal/cache.RemoteLoader.
func (p *Proxy) ObjectOn(ctx context.Context, shardID string, id tsid.TSID) (objref.AttrObject, error) {
	client, err := p.dialer.ClientFor(shardID)
	if err != nil {
		return nil, err
	}
	return &remoteEntity{id: id, shardID: shardID, client: client}, nil
}

// remoteEntity is a thin remote handle, good enough to satisfy
// entity.Entity: every read/write forwards to the owning shard over
// RPC. IsStale/LastModified are not meaningfully trackable without a
// push channel from the owner, so they report conservative defaults
// (never stale, zero time) rather than faking freshness.
type remoteEntity struct {
	id      tsid.TSID
	shardID string
	client  *Client
}

var _ entity.Entity = (*remoteEntity)(nil)

func (r *remoteEntity) TSID() tsid.TSID { return r.id }
func (r *remoteEntity) Type() tsid.Tag { return r.id.Tag() }
func (r *remoteEntity) IsStale() bool { return false }
func (r *remoteEntity) LastModified() time.Time { return time.Time{} }

func (r *remoteEntity) IsDeleted() bool {
	raw, err := r.client.Call(context.Background(), "obj", objParams{TSID: string(r.id), Op: "isDeleted"})
	if err != nil {
		return false
	}
	var res objResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false
	}
	deleted, _ := res.Value.(bool)
	return deleted
}

func (r *remoteEntity) GetAttr(ctx context.Context, name string) (any, bool, error) {
	raw, err := r.client.Call(ctx, "obj", objParams{TSID: string(r.id), Op: "get", Name: name})
	if err != nil {
		return nil, false, err
	}
	var res objResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, err
	}
	return res.Value, res.Present, nil
}

func (r *remoteEntity) SetAttr(ctx context.Context, name string, val any) error {
	_, err := r.client.Call(ctx, "obj", objParams{TSID: string(r.id), Op: "set", Name: name, Value: val})
	return err
}

func (r *remoteEntity) DeleteAttr(ctx context.Context, name string) error {
	_, err := r.client.Call(ctx, "obj", objParams{TSID: string(r.id), Op: "delete", Name: name})
	return err
}

func (r *remoteEntity) Keys(ctx context.Context) ([]string, error) {
	raw, err := r.client.Call(ctx, "obj", objParams{TSID: string(r.id), Op: "keys"})
	if err != nil {
		return nil, err
	}
	var res objResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.Keys, nil
}

// Serialize is not meaningful on a remote handle — the owning shard is
// the only one that ever persists this entity's body. It exists solely
// to satisfy entity.Entity's interface shape.
func (r *remoteEntity) Serialize() (map[string]any, error) {
	raw, err := r.client.Call(context.Background(), "obj", objParams{TSID: string(r.id), Op: "get", Name: ""})
	if err != nil {
		return nil, err
	}
	var res objResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	if m, ok := res.Value.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{}, nil
}
