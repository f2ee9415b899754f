package entity

import (
	"context"
	"fmt"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Player is the per-account avatar entity. Its location backref is a
// resolver Proxy rather than a direct pointer because a player can be
// rehomed across shards on a location move; sessionBackref is an
// untyped handle set by SetOnline and never persisted. The outbound
// diff flush does not read it: it finds a player's live session through
// the session manager.
type Player struct {
	Base
	name           string
	location       *objref.Proxy
	active         bool
	sessionBackref any
	inventory      map[string]tsid.TSID // slot -> item tsid
	stats          Properties
	pendingAnnc    []map[string]any // transient, never persisted or marked dirty
}

// NewPlayer allocates a Player with no location and an empty inventory.
func NewPlayer(id tsid.TSID) *Player {
	return &Player{
		Base:      NewBase(id),
		inventory: make(map[string]tsid.TSID),
		stats:     make(Properties),
	}
}

func (p *Player) Name() string { return p.name }

func (p *Player) SetName(ctx context.Context, name string) {
	p.name = name
	p.Touch()
	setDirty(ctx, p)
}

// Location returns the resolver proxy for the player's current location,
// or nil if the player has never been placed.
func (p *Player) Location() *objref.Proxy { return p.location }

// SetLocation points the player at loc. Invariant: non-nil
// while Active.
func (p *Player) SetLocation(ctx context.Context, loc *objref.Proxy) {
	p.location = loc
	p.Touch()
	setDirty(ctx, p)
}

// Active reports whether the player currently has a live wire session.
func (p *Player) Active() bool { return p.active }

// SessionBackref returns the opaque session handle set by SetOnline, or
// nil when offline. Never serialized.
func (p *Player) SessionBackref() any { return p.sessionBackref }

// SetOnline marks the player active and attaches its transient session
// handle — invariant: the location backref is non-null while active, so
// location must already be set.
func (p *Player) SetOnline(ctx context.Context, session any) error {
	if p.location == nil {
		return fmt.Errorf("entity: player %s cannot go online without a location", p.TSID())
	}
	p.active = true
	p.sessionBackref = session
	setDirty(ctx, p)
	return nil
}

// SetOffline clears the active flag and drops the transient session
// handle. Location is left untouched — a logged-out player still
// occupies their last location.
func (p *Player) SetOffline(ctx context.Context) {
	p.active = false
	p.sessionBackref = nil
	setDirty(ctx, p)
}

// InventorySlot returns the item TSID occupying slot, if any.
func (p *Player) InventorySlot(slot string) (tsid.TSID, bool) {
	id, ok := p.inventory[slot]
	return id, ok
}

// SetInventorySlot assigns id to slot, or clears it when id == "".
func (p *Player) SetInventorySlot(ctx context.Context, slot string, id tsid.TSID) {
	if id == "" {
		delete(p.inventory, slot)
	} else {
		p.inventory[slot] = id
	}
	setDirty(ctx, p)
}

// QueueAnnc appends an opaque script-authored notification to the
// player's pending announcement buffer. Transient — never persisted,
// never marks the player dirty — but resolving a Player through
// internal/cache always registers it in the request's local cache, so
// a PostCommit hook scanning that set still finds it even when nothing
// else about the player changed.
func (p *Player) QueueAnnc(ctx context.Context, annc map[string]any) {
	p.pendingAnnc = append(p.pendingAnnc, annc)
}

// DrainAnnc returns and clears the player's pending announcement
// buffer. Called once per flush cycle by the outbound diff hook.
func (p *Player) DrainAnnc() []map[string]any {
	if len(p.pendingAnnc) == 0 {
		return nil
	}
	out := p.pendingAnnc
	p.pendingAnnc = nil
	return out
}

// Stats returns the player's BoundedProperty table (hp, mp, and so on).
func (p *Player) Stats() Properties { return p.stats }

// SetStat replaces or inserts a stat property, marking the player dirty
// so the next commit persists the new gauge.
func (p *Player) SetStat(ctx context.Context, stat *BoundedProperty) {
	p.stats[stat.Name()] = stat
	setDirty(ctx, p)
}

func (p *Player) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(p.TSID()), true, nil
	case "name":
		return p.name, true, nil
	case "active":
		return p.active, true, nil
	case "location":
		if p.location == nil {
			return nil, true, nil
		}
		return p.location, true, nil
	}
	if stat, ok := p.stats[name]; ok {
		return stat.Value(), true, nil
	}
	v, ok := p.GetExt(name)
	return v, ok, nil
}

func (p *Player) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid", "active", "location":
		return fmt.Errorf("entity: %s must be set via its typed setter", name)
	case "name":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("entity: name must be a string")
		}
		p.SetName(ctx, s)
		return nil
	}
	if stat, ok := p.stats[name]; ok {
		f, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("entity: stat %s must be numeric", name)
		}
		stat.SetVal(f)
		setDirty(ctx, p)
		return nil
	}
	p.SetExt(name, val)
	setDirty(ctx, p)
	return nil
}

func (p *Player) DeleteAttr(ctx context.Context, name string) error {
	p.DeleteExt(name)
	setDirty(ctx, p)
	return nil
}

func (p *Player) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "name", "active", "location"}
	for name := range p.stats {
		keys = append(keys, name)
	}
	return append(keys, p.ExtKeys()...), nil
}

// Serialize renders the persisted body.
func (p *Player) Serialize() (map[string]any, error) {
	statVals := make(map[string]int64, len(p.stats))
	for name, s := range p.stats {
		statVals[name] = s.Value()
	}
	body := map[string]any{
		"tsid":      string(p.TSID()),
		"type":      p.Type().String(),
		"name":      p.name,
		"active":    p.active,
		"inventory": p.inventory,
		"stats":     statVals,
		"ext":       p.ExtAll(),
	}
	if p.location != nil {
		body["location"] = p.location.Ref().AsMap()
	}
	// sessionBackref is transient and deliberately not serialized.
	return body, nil
}

// DeserializePlayer reconstructs a Player from a persisted body. Active
// is always reset to false on load — a player only becomes active again
// once its wire session completes login.
func DeserializePlayer(id tsid.TSID, body map[string]any, r objref.Resolver) (*Player, error) {
	p := NewPlayer(id)
	if name, ok := body["name"].(string); ok {
		p.name = name
	}
	if loc, ok := body["location"].(map[string]any); ok {
		if ref, ok := objref.IsObjRefMap(loc); ok {
			p.location = objref.NewProxy(ref, r)
		}
	}
	if inv, ok := body["inventory"].(map[string]any); ok {
		for slot, v := range inv {
			if s, ok := v.(string); ok {
				p.inventory[slot] = tsid.TSID(s)
			}
		}
	}
	if stats, ok := body["stats"].(map[string]any); ok {
		for name, v := range stats {
			if f, ok := toFloat64(v); ok {
				p.stats[name] = NewBoundedProperty(name, 0, 1<<62, int64(f), false)
			}
		}
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		p.loadExt(ext)
	}
	return p, nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
