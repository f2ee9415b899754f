package entity

import (
	"context"
	"fmt"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Item is a stackable or unique game object living in exactly one
// container at a time — a Location, a Bag, or a Player's
// inventory slot. The container backref is a resolver Proxy since the
// container may live on a different shard mid-move.
type Item struct {
	Base
	container *objref.Proxy
	slot      string
	x, y      int32
	count     int64
	classTag  string
	stackMax  int64
}

// NewItem allocates an Item with no container and a stack max of 1
// (callers override via SetStackMax for stackable classes).
func NewItem(id tsid.TSID) *Item {
	return &Item{Base: NewBase(id), stackMax: 1}
}

func (it *Item) ClassTag() string { return it.classTag }

func (it *Item) SetClassTag(ctx context.Context, tag string) {
	it.classTag = tag
	it.Touch()
	setDirty(ctx, it)
}

// Container returns the resolver proxy for the item's current owner, or
// nil if unplaced (only valid transiently during creation).
func (it *Item) Container() *objref.Proxy { return it.container }

// SetContainer reassigns the item's container. Invariant:
// an item has exactly one live container at any time — callers own
// removing the item from its previous container before calling this.
func (it *Item) SetContainer(ctx context.Context, container *objref.Proxy, slot string) {
	it.container = container
	it.slot = slot
	it.Touch()
	setDirty(ctx, it)
}

func (it *Item) Slot() string { return it.slot }

func (it *Item) Position() (x, y int32) { return it.x, it.y }

func (it *Item) SetPosition(ctx context.Context, x, y int32) {
	it.x, it.y = x, y
	it.Touch()
	setDirty(ctx, it)
}

func (it *Item) Count() int64 { return it.count }
func (it *Item) StackMax() int64 { return it.stackMax }

func (it *Item) SetStackMax(ctx context.Context, max int64) error {
	if max < 1 {
		return fmt.Errorf("entity: item %s stackMax must be >= 1", it.TSID())
	}
	it.stackMax = max
	setDirty(ctx, it)
	return nil
}

// SetCount sets the stack count. Invariant: count >= 0;
// callers should Del the item once count reaches 0 for a consumed stack.
func (it *Item) SetCount(ctx context.Context, count int64) error {
	if count < 0 {
		return fmt.Errorf("entity: item %s count must be >= 0, got %d", it.TSID(), count)
	}
	if count > it.stackMax {
		count = it.stackMax
	}
	it.count = count
	it.Touch()
	setDirty(ctx, it)
	return nil
}

// IsBusy reports whether the item has an active "growing" or "running"
// timer — tracked as plain extension flags since timer evaluation itself
// belongs to the external scripting layer, not the core.
func (it *Item) IsBusy() bool {
	growing, _ := it.GetExt("growingTimer")
	running, _ := it.GetExt("runningTimer")
	return asBool(growing) || asBool(running)
}

// StopTimer clears both timer flags — called on each of a location's
// items before the location itself is unloaded.
func (it *Item) StopTimer(ctx context.Context) {
	it.DeleteExt("growingTimer")
	it.DeleteExt("runningTimer")
	setDirty(ctx, it)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// Del marks the item deleted. Invariant: deletion of a
// stackable item implies count == 0.
func (it *Item) Del(ctx context.Context) error {
	if it.stackMax > 1 && it.count != 0 {
		return fmt.Errorf("entity: item %s cannot be deleted with nonzero count %d", it.TSID(), it.count)
	}
	it.MarkDeleted()
	setDirty(ctx, it)
	return nil
}

func (it *Item) GetAttr(ctx context.Context, name string) (any, bool, error) {
	switch name {
	case "tsid":
		return string(it.TSID()), true, nil
	case "class":
		return it.classTag, true, nil
	case "count":
		return it.count, true, nil
	case "stackMax":
		return it.stackMax, true, nil
	case "slot":
		return it.slot, true, nil
	case "x":
		return it.x, true, nil
	case "y":
		return it.y, true, nil
	case "container":
		if it.container == nil {
			return nil, true, nil
		}
		return it.container, true, nil
	}
	v, ok := it.GetExt(name)
	return v, ok, nil
}

func (it *Item) SetAttr(ctx context.Context, name string, val any) error {
	switch name {
	case "tsid", "container":
		return fmt.Errorf("entity: %s must be set via its typed setter", name)
	case "class":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("entity: class must be a string")
		}
		it.SetClassTag(ctx, s)
		return nil
	case "count":
		f, ok := toFloat64(val)
		if !ok {
			return fmt.Errorf("entity: count must be numeric")
		}
		return it.SetCount(ctx, int64(f))
	}
	it.SetExt(name, val)
	setDirty(ctx, it)
	return nil
}

func (it *Item) DeleteAttr(ctx context.Context, name string) error {
	it.DeleteExt(name)
	setDirty(ctx, it)
	return nil
}

func (it *Item) Keys(ctx context.Context) ([]string, error) {
	keys := []string{"tsid", "class", "count", "stackMax", "slot", "x", "y", "container"}
	return append(keys, it.ExtKeys()...), nil
}

func (it *Item) Serialize() (map[string]any, error) {
	body := map[string]any{
		"tsid":     string(it.TSID()),
		"type":     it.Type().String(),
		"class":    it.classTag,
		"count":    it.count,
		"stackMax": it.stackMax,
		"slot":     it.slot,
		"x":        it.x,
		"y":        it.y,
		"ext":      it.ExtAll(),
	}
	if it.container != nil {
		body["container"] = it.container.Ref().AsMap()
	}
	return body, nil
}

// DeserializeItem reconstructs an Item from a persisted body.
func DeserializeItem(id tsid.TSID, body map[string]any, r objref.Resolver) (*Item, error) {
	it := NewItem(id)
	populateItem(it, body, r)
	return it, nil
}

func populateItem(it *Item, body map[string]any, r objref.Resolver) {
	if c, ok := body["class"].(string); ok {
		it.classTag = c
	}
	if c, ok := body["count"]; ok {
		if f, ok := toFloat64(c); ok {
			it.count = int64(f)
		}
	}
	if c, ok := body["stackMax"]; ok {
		if f, ok := toFloat64(c); ok {
			it.stackMax = int64(f)
		}
	}
	if s, ok := body["slot"].(string); ok {
		it.slot = s
	}
	if x, ok := body["x"]; ok {
		if f, ok := toFloat64(x); ok {
			it.x = int32(f)
		}
	}
	if y, ok := body["y"]; ok {
		if f, ok := toFloat64(y); ok {
			it.y = int32(f)
		}
	}
	if cont, ok := body["container"].(map[string]any); ok {
		if ref, ok := objref.IsObjRefMap(cont); ok {
			it.container = objref.NewProxy(ref, r)
		}
	}
	if ext, ok := body["ext"].(map[string]any); ok {
		it.loadExt(ext)
	}
}

// Bag is an Item that is also itself a container, holding other items.
// A Bag's own Container backref works exactly like any other Item's;
// Bag adds the contents table an Item lacks.
type Bag struct {
	Item
	contents map[tsid.TSID]*Item
}

// NewBag allocates an empty Bag.
func NewBag(id tsid.TSID) *Bag {
	return &Bag{Item: *NewItem(id), contents: make(map[tsid.TSID]*Item)}
}

// Contents returns a snapshot of the items held in this bag.
func (b *Bag) Contents() map[tsid.TSID]*Item {
	out := make(map[tsid.TSID]*Item, len(b.contents))
	for k, v := range b.contents {
		out[k] = v
	}
	return out
}

// AddContent inserts it into the bag's contents table. Callers must
// have already pointed the item's container backref at this bag.
func (b *Bag) AddContent(ctx context.Context, it *Item) {
	b.contents[it.TSID()] = it
	b.Touch()
	setDirty(ctx, b)
}

// RemoveContent evicts an item from the contents table.
func (b *Bag) RemoveContent(ctx context.Context, id tsid.TSID) {
	if _, ok := b.contents[id]; !ok {
		return
	}
	delete(b.contents, id)
	b.Touch()
	setDirty(ctx, b)
}

func (b *Bag) GetAttr(ctx context.Context, name string) (any, bool, error) {
	if name == "itemCount" {
		return len(b.contents), true, nil
	}
	return b.Item.GetAttr(ctx, name)
}

func (b *Bag) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.Item.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return append(keys, "itemCount"), nil
}

func (b *Bag) Serialize() (map[string]any, error) {
	body, err := b.Item.Serialize()
	if err != nil {
		return nil, err
	}
	contents := make([]string, 0, len(b.contents))
	for id := range b.contents {
		contents = append(contents, string(id))
	}
	body["contents"] = contents
	return body, nil
}

// DeserializeBag reconstructs a Bag from a persisted body, restoring its
// item fields only. The persisted "contents" array is not read, and
// nothing on the load path refills the contents table: it starts empty,
// like DeserializeLocation's player/item tables.
func DeserializeBag(id tsid.TSID, body map[string]any, r objref.Resolver) (*Bag, error) {
	b := NewBag(id)
	populateItem(&b.Item, body, r)
	return b, nil
}
