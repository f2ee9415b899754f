package entity

import (
	"context"
	"fmt"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Group, Quest, and DataContainer share a common core: a Base plus a
// single owner backref. Group adds a member list and Quest adds a state
// field. They are kept as separate types rather than one parameterized
// type to match the per-type-repository texture the rest of this
// codebase uses for its persisted kinds — each gets its own
// constructor/Deserialize pair.

// Group is a party/alliance-style membership roster, owned by the
// entity that created it.
type Group struct {
	Base
	owner   *objref.Proxy
	members []tsid.TSID
}

// NewGroup allocates an empty Group.
func NewGroup(id tsid.TSID) *Group { return &Group{Base: NewBase(id)} }

func (g *Group) Owner() *objref.Proxy { return g.owner }

// SetOwner assigns the owning entity. Invariant: owner TSID
// must resolve to a live or loadable entity — enforced at resolve time
// by the objref proxy, not here.
func (g *Group) SetOwner(ctx context.Context, owner *objref.Proxy) {
	g.owner = owner
	setDirty(ctx, g)
}

func (g *Group) Members() []tsid.TSID { return append([]tsid.TSID(nil), g.members...) }

func (g *Group) AddMember(ctx context.Context, id tsid.TSID) {
	for _, m := range g.members {
		if m == id {
			return
		}
	}
	g.members = append(g.members, id)
	setDirty(ctx, g)
}

func (g *Group) RemoveMember(ctx context.Context, id tsid.TSID) {
	for i, m := range g.members {
		if m == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			setDirty(ctx, g)
			return
		}
	}
}

func (g *Group) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(g.TSID()), true, nil
	case "owner":
		if g.owner == nil {
			return nil, true, nil
		}
		return g.owner, true, nil
	case "members":
		return g.Members(), true, nil
	}
	v, ok := g.GetExt(name)
	return v, ok, nil
}

func (g *Group) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid", "owner", "members":
		return fmt.Errorf("entity: %s must be set via its typed setter", name)
	}
	g.SetExt(name, val)
	setDirty(ctx, g)
	return nil
}

func (g *Group) DeleteAttr(ctx context.Context, name string) error {
	g.DeleteExt(name)
	setDirty(ctx, g)
	return nil
}

func (g *Group) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "owner", "members"}
	return append(keys, g.ExtKeys()...), nil
}

func (g *Group) Serialize() (map[string]any, error) {
	members := make([]string, len(g.members))
	for i, m := range g.members {
		members[i] = string(m)
	}
	body := map[string]any{
		"tsid":    string(g.TSID()),
		"type":    g.Type().String(),
		"members": members,
		"ext":     g.ExtAll(),
	}
	if g.owner != nil {
		body["owner"] = g.owner.Ref().AsMap()
	}
	return body, nil
}

// DeserializeGroup reconstructs a Group from a persisted body.
func DeserializeGroup(id tsid.TSID, body map[string]any, r objref.Resolver) (*Group, error) {
	g := NewGroup(id)
	if owner, ok := body["owner"].(map[string]any); ok {
		if ref, ok := objref.IsObjRefMap(owner); ok {
			g.owner = objref.NewProxy(ref, r)
		}
	}
	if members, ok := body["members"].([]any); ok {
		for _, m := range members {
			if s, ok := m.(string); ok {
				g.members = append(g.members, tsid.TSID(s))
			}
		}
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		g.loadExt(ext)
	}
	return g, nil
}

// Quest is a per-player quest progress record, owned by the player
// pursuing it.
type Quest struct {
	Base
	owner *objref.Proxy
	state string
}

// NewQuest allocates a Quest with no owner and empty state.
func NewQuest(id tsid.TSID) *Quest { return &Quest{Base: NewBase(id)} }

func (q *Quest) Owner() *objref.Proxy { return q.owner }

func (q *Quest) SetOwner(ctx context.Context, owner *objref.Proxy) {
	q.owner = owner
	setDirty(ctx, q)
}

func (q *Quest) State() string { return q.state }

func (q *Quest) SetState(ctx context.Context, state string) {
	q.state = state
	q.Touch()
	setDirty(ctx, q)
}

func (q *Quest) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(q.TSID()), true, nil
	case "owner":
		if q.owner == nil {
			return nil, true, nil
		}
		return q.owner, true, nil
	case "state":
		return q.state, true, nil
	}
	v, ok := q.GetExt(name)
	return v, ok, nil
}

func (q *Quest) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid", "owner":
		return fmt.Errorf("entity: %s must be set via its typed setter", name)
	case "state":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("entity: state must be a string")
		}
		q.SetState(ctx, s)
		return nil
	}
	q.SetExt(name, val)
	setDirty(ctx, q)
	return nil
}

func (q *Quest) DeleteAttr(ctx context.Context, name string) error {
	q.DeleteExt(name)
	setDirty(ctx, q)
	return nil
}

func (q *Quest) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "owner", "state"}
	return append(keys, q.ExtKeys()...), nil
}

func (q *Quest) Serialize() (map[string]any, error) {
	body := map[string]any{
		"tsid":  string(q.TSID()),
		"type":  q.Type().String(),
		"state": q.state,
		"ext":   q.ExtAll(),
	}
	if q.owner != nil {
		body["owner"] = q.owner.Ref().AsMap()
	}
	return body, nil
}

// DeserializeQuest reconstructs a Quest from a persisted body.
func DeserializeQuest(id tsid.TSID, body map[string]any, r objref.Resolver) (*Quest, error) {
	q := NewQuest(id)
	if owner, ok := body["owner"].(map[string]any); ok {
		if ref, ok := objref.IsObjRefMap(owner); ok {
			q.owner = objref.NewProxy(ref, r)
		}
	}
	if state, ok := body["state"].(string); ok {
		q.state = state
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		q.loadExt(ext)
	}
	return q, nil
}

// DataContainer is an opaque, owner-scoped bucket for data that doesn't
// warrant its own typed entity — e.g. a player's
// achievement log.
type DataContainer struct {
	Base
	owner *objref.Proxy
}

// NewDataContainer allocates an empty DataContainer.
func NewDataContainer(id tsid.TSID) *DataContainer { return &DataContainer{Base: NewBase(id)} }

func (d *DataContainer) Owner() *objref.Proxy { return d.owner }

func (d *DataContainer) SetOwner(ctx context.Context, owner *objref.Proxy) {
	d.owner = owner
	setDirty(ctx, d)
}

func (d *DataContainer) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(d.TSID()), true, nil
	case "owner":
		if d.owner == nil {
			return nil, true, nil
		}
		return d.owner, true, nil
	}
	v, ok := d.GetExt(name)
	return v, ok, nil
}

func (d *DataContainer) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid", "owner":
		return fmt.Errorf("entity: %s must be set via its typed setter", name)
	}
	d.SetExt(name, val)
	setDirty(ctx, d)
	return nil
}

func (d *DataContainer) DeleteAttr(ctx context.Context, name string) error {
	d.DeleteExt(name)
	setDirty(ctx, d)
	return nil
}

func (d *DataContainer) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "owner"}
	return append(keys, d.ExtKeys()...), nil
}

func (d *DataContainer) Serialize() (map[string]any, error) {
	body := map[string]any{
		"tsid": string(d.TSID()),
		"type": d.Type().String(),
		"ext":  d.ExtAll(),
	}
	if d.owner != nil {
		body["owner"] = d.owner.Ref().AsMap()
	}
	return body, nil
}

// DeserializeDataContainer reconstructs a DataContainer from a persisted
// body.
func DeserializeDataContainer(id tsid.TSID, body map[string]any, r objref.Resolver) (*DataContainer, error) {
	d := NewDataContainer(id)
	if owner, ok := body["owner"].(map[string]any); ok {
		if ref, ok := objref.IsObjRefMap(owner); ok {
			d.owner = objref.NewProxy(ref, r)
		}
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		d.loadExt(ext)
	}
	return d, nil
}
