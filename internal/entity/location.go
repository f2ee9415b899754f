package entity

import (
	"context"
	"fmt"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Location hosts players and items, paired 1:1 with a Geometry entity
// sharing its TSID suffix. Players and items are colocated with their
// Location on the owning shard, so both tables hold direct pointers
// rather than resolver proxies.
type Location struct {
	Base
	name     string
	players  map[tsid.TSID]*Player
	items    map[tsid.TSID]*Item
	geometry *Geometry
}

// NewLocation allocates an empty Location. geometry is attached via
// SetGeometry once its paired Geometry entity is created/loaded.
func NewLocation(id tsid.TSID) *Location {
	return &Location{
		Base:    NewBase(id),
		players: make(map[tsid.TSID]*Player),
		items:   make(map[tsid.TSID]*Item),
	}
}

func (l *Location) Name() string { return l.name }

func (l *Location) SetName(ctx context.Context, name string) {
	l.name = name
	l.Touch()
	setDirty(ctx, l)
}

// Geometry returns the paired Geometry entity, or nil if not yet
// attached.
func (l *Location) Geometry() *Geometry { return l.geometry }

// SetGeometry attaches g, asserting the 1:1 TSID-suffix invariant:
// the geometry TSID equals the location TSID with a G prefix.
func (l *Location) SetGeometry(ctx context.Context, g *Geometry) error {
	if g.TSID() != tsid.GeometryOf(l.TSID()) {
		return fmt.Errorf("location %s: geometry tsid %s does not match expected %s", l.TSID(), g.TSID(), tsid.GeometryOf(l.TSID()))
	}
	l.geometry = g
	setDirty(ctx, l)
	return nil
}

// Players returns a snapshot of the player table.
func (l *Location) Players() map[tsid.TSID]*Player {
	out := make(map[tsid.TSID]*Player, len(l.players))
	for k, v := range l.players {
		out[k] = v
	}
	return out
}

// PlayerCount reports how many players currently occupy this location.
func (l *Location) PlayerCount() int { return len(l.players) }

// AddPlayer inserts p keyed by TSID and marks the location dirty. p
// itself, including its active flag, is not touched.
func (l *Location) AddPlayer(ctx context.Context, p *Player) {
	l.players[p.TSID()] = p
	l.Touch()
	setDirty(ctx, l)
}

// RemovePlayer evicts p from the player table.
func (l *Location) RemovePlayer(ctx context.Context, id tsid.TSID) {
	if _, ok := l.players[id]; !ok {
		return
	}
	delete(l.players, id)
	l.Touch()
	setDirty(ctx, l)
}

// ClearPlayers empties the player table in one step — used by the
// location-unload cascade, which clears the backref set once every
// connected player has already left.
func (l *Location) ClearPlayers(ctx context.Context) {
	if len(l.players) == 0 {
		return
	}
	l.players = make(map[tsid.TSID]*Player)
	l.Touch()
	setDirty(ctx, l)
}

// Items returns a snapshot of the item table.
func (l *Location) Items() map[tsid.TSID]*Item {
	out := make(map[tsid.TSID]*Item, len(l.items))
	for k, v := range l.items {
		out[k] = v
	}
	return out
}

// AddItem inserts it keyed by TSID. Every item in loc.items has this
// location as its container — callers must have already pointed the
// item's container backref here.
func (l *Location) AddItem(ctx context.Context, it *Item) {
	l.items[it.TSID()] = it
	l.Touch()
	setDirty(ctx, l)
}

// RemoveItem evicts an item from the item table.
func (l *Location) RemoveItem(ctx context.Context, id tsid.TSID) {
	if _, ok := l.items[id]; !ok {
		return
	}
	delete(l.items, id)
	l.Touch()
	setDirty(ctx, l)
}

func (l *Location) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(l.TSID()), true, nil
	case "name":
		return l.name, true, nil
	case "playerCount":
		return len(l.players), true, nil
	case "itemCount":
		return len(l.items), true, nil
	}
	v, ok := l.GetExt(name)
	return v, ok, nil
}

func (l *Location) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid":
		return fmt.Errorf("entity: tsid is immutable")
	case "name":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("entity: name must be a string")
		}
		l.SetName(ctx, s)
		return nil
	}
	l.SetExt(name, val)
	setDirty(ctx, l)
	return nil
}

func (l *Location) DeleteAttr(ctx context.Context, name string) error {
	l.DeleteExt(name)
	setDirty(ctx, l)
	return nil
}

func (l *Location) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "name", "playerCount", "itemCount"}
	return append(keys, l.ExtKeys()...), nil
}

// Serialize renders the persisted body. Collections keyed by TSID are
// serialized as arrays.
func (l *Location) Serialize() (map[string]any, error) {
	players := make([]string, 0, len(l.players))
	for id := range l.players {
		players = append(players, string(id))
	}
	items := make([]string, 0, len(l.items))
	for id := range l.items {
		items = append(items, string(id))
	}
	body := map[string]any{
		"tsid":    string(l.TSID()),
		"type":    l.Type().String(),
		"name":    l.name,
		"players": players,
		"items":   items,
		"ext":     l.ExtAll(),
	}
	if l.geometry != nil {
		body["geometry"] = string(l.geometry.TSID())
	}
	return body, nil
}

// DeserializeLocation reconstructs a Location from a persisted body,
// restoring name and ext only. The persisted players/items arrays are
// not read, and nothing on the load path refills the player/item
// tables: they start empty and gain entries only through AddPlayer/
// AddItem calls (login_end calls AddPlayer).
func DeserializeLocation(id tsid.TSID, body map[string]any) (*Location, error) {
	l := NewLocation(id)
	if name, ok := body["name"].(string); ok {
		l.name = name
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		l.loadExt(ext)
	}
	return l, nil
}

// Geometry pairs 1:1 with a Location, sharing its TSID suffix under the
// 'G' tag, carrying opaque layer/connect data.
type Geometry struct {
	Base
	layerConnectData map[string]any
}

// NewGeometry allocates an empty Geometry.
func NewGeometry(id tsid.TSID) *Geometry {
	return &Geometry{Base: NewBase(id), layerConnectData: make(map[string]any)}
}

// LayerConnectData returns the opaque layer/connect payload.
func (g *Geometry) LayerConnectData() map[string]any { return g.layerConnectData }

// SetLayerConnectData replaces the opaque payload.
func (g *Geometry) SetLayerConnectData(ctx context.Context, data map[string]any) {
	g.layerConnectData = data
	g.Touch()
	setDirty(ctx, g)
}

func (g *Geometry) GetAttr(ctx context.Context, name string) (any, bool, error) {
	if name == "tsid" {
		return string(g.TSID()), true, nil
	}
	if v, ok := g.layerConnectData[name]; ok {
		return v, true, nil
	}
	v, ok := g.GetExt(name)
	return v, ok, nil
}

func (g *Geometry) SetAttr(ctx context.Context, name string, val any) error {
	g.layerConnectData[name] = val
	setDirty(ctx, g)
	return nil
}

func (g *Geometry) DeleteAttr(ctx context.Context, name string) error {
	delete(g.layerConnectData, name)
	setDirty(ctx, g)
	return nil
}

func (g *Geometry) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(g.layerConnectData)+1)
	keys = append(keys, "tsid")
	for k := range g.layerConnectData {
		keys = append(keys, k)
	}
	return keys, nil
}

// Serialize renders the persisted body.
func (g *Geometry) Serialize() (map[string]any, error) {
	return map[string]any{
		"tsid": string(g.TSID()),
		"type": g.Type().String(),
		"data": objref.Refify(g.layerConnectData),
	}, nil
}

// DeserializeGeometry reconstructs a Geometry from a persisted body.
func DeserializeGeometry(id tsid.TSID, body map[string]any, r objref.Resolver) (*Geometry, error) {
	g := NewGeometry(id)
	if data, ok := body["data"].(map[string]any); ok {
		if proxified, ok := objref.Proxify(data, r).(map[string]any); ok {
			g.layerConnectData = proxified
		}
	}
	return g, nil
}
