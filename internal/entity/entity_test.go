package entity

import (
	"context"
	"testing"

	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// nopResolver never resolves anything; tests here only exercise the
// unresolved-proxy paths (tsid/label reads, ref round-tripping).
type nopResolver struct{}

func (nopResolver) Resolve(ctx context.Context, id tsid.TSID) (objref.AttrObject, error) {
	panic("resolve should not be called in these tests")
}

func withRC(owner tsid.TSID) context.Context {
	rc := reqctx.New(owner, "test")
	return reqctx.Bind(context.Background(), rc)
}

func TestNewByTagDispatchesAllVariants(t *testing.T) {
	tags := []tsid.Tag{
		tsid.TagLocation, tsid.TagGeometry, tsid.TagPlayer, tsid.TagItem,
		tsid.TagBag, tsid.TagGroup, tsid.TagQuest, tsid.TagDataContainer,
	}
	for _, tag := range tags {
		id := tsid.New(tag)
		e, err := NewByTag(id)
		if err != nil {
			t.Fatalf("NewByTag(%s): %v", tag, err)
		}
		if e.TSID() != id {
			t.Fatalf("entity tsid mismatch: got %s want %s", e.TSID(), id)
		}
		if e.Type() != tag {
			t.Fatalf("entity type mismatch: got %s want %s", e.Type(), tag)
		}
	}
}

func TestNewByTagRejectsUnknownTag(t *testing.T) {
	if _, err := NewByTag(tsid.TSID("X000000000001")); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestLocationGeometryPairingInvariant(t *testing.T) {
	loc := NewLocation(tsid.New(tsid.TagLocation))
	ctx := withRC(loc.TSID())

	wrongGeo := NewGeometry(tsid.New(tsid.TagGeometry))
	if err := loc.SetGeometry(ctx, wrongGeo); err == nil {
		t.Fatal("expected error pairing geometry with mismatched suffix")
	}

	rightGeo := NewGeometry(tsid.GeometryOf(loc.TSID()))
	if err := loc.SetGeometry(ctx, rightGeo); err != nil {
		t.Fatalf("expected matching geometry to pair: %v", err)
	}
	if loc.Geometry() != rightGeo {
		t.Fatal("geometry not attached")
	}
}

func TestLocationPlayerAndItemTables(t *testing.T) {
	loc := NewLocation(tsid.New(tsid.TagLocation))
	ctx := withRC(loc.TSID())

	p := NewPlayer(tsid.New(tsid.TagPlayer))
	loc.AddPlayer(ctx, p)
	if loc.PlayerCount() != 1 {
		t.Fatalf("expected 1 player, got %d", loc.PlayerCount())
	}
	loc.RemovePlayer(ctx, p.TSID())
	if loc.PlayerCount() != 0 {
		t.Fatal("expected player removed")
	}

	it := NewItem(tsid.New(tsid.TagItem))
	loc.AddItem(ctx, it)
	if _, ok := loc.Items()[it.TSID()]; !ok {
		t.Fatal("expected item present")
	}
}

func TestPlayerOnlineRequiresLocation(t *testing.T) {
	p := NewPlayer(tsid.New(tsid.TagPlayer))
	ctx := withRC(p.TSID())

	if err := p.SetOnline(ctx, "session-handle"); err == nil {
		t.Fatal("expected error going online without a location")
	}

	ref := objref.NewProxy(objref.Ref{TSID: tsid.New(tsid.TagLocation)}, nopResolver{})
	p.SetLocation(ctx, ref)
	if err := p.SetOnline(ctx, "session-handle"); err != nil {
		t.Fatalf("expected online to succeed once located: %v", err)
	}
	if !p.Active() || p.SessionBackref() != "session-handle" {
		t.Fatal("expected active flag and session backref set")
	}

	p.SetOffline(ctx)
	if p.Active() || p.SessionBackref() != nil {
		t.Fatal("expected offline to clear active and session backref")
	}
	if p.Location() == nil {
		t.Fatal("location should survive going offline")
	}
}

func TestPlayerSerializeOmitsSessionBackref(t *testing.T) {
	p := NewPlayer(tsid.New(tsid.TagPlayer))
	ctx := withRC(p.TSID())
	ref := objref.NewProxy(objref.Ref{TSID: tsid.New(tsid.TagLocation)}, nopResolver{})
	p.SetLocation(ctx, ref)
	_ = p.SetOnline(ctx, "should-not-be-serialized")

	body, err := p.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, present := body["sessionBackref"]; present {
		t.Fatal("sessionBackref must never be serialized")
	}
	if body["active"] != true {
		t.Fatal("expected active=true in serialized body")
	}
}

func TestItemCountInvariant(t *testing.T) {
	it := NewItem(tsid.New(tsid.TagItem))
	ctx := withRC(it.TSID())

	if err := it.SetCount(ctx, -1); err == nil {
		t.Fatal("expected error for negative count")
	}
	if err := it.SetStackMax(ctx, 0); err == nil {
		t.Fatal("expected error for stackMax < 1")
	}
	if err := it.SetStackMax(ctx, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := it.SetCount(ctx, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Count() != 5 {
		t.Fatalf("expected count 5, got %d", it.Count())
	}
}

func TestItemDeletionRequiresZeroCountForStacks(t *testing.T) {
	it := NewItem(tsid.New(tsid.TagItem))
	ctx := withRC(it.TSID())
	_ = it.SetStackMax(ctx, 10)
	_ = it.SetCount(ctx, 3)

	if err := it.Del(ctx); err == nil {
		t.Fatal("expected error deleting stackable item with nonzero count")
	}
	_ = it.SetCount(ctx, 0)
	if err := it.Del(ctx); err != nil {
		t.Fatalf("expected delete to succeed at count 0: %v", err)
	}
	if !it.IsDeleted() {
		t.Fatal("expected item marked deleted")
	}
}

func TestBagHoldsContents(t *testing.T) {
	bag := NewBag(tsid.New(tsid.TagBag))
	ctx := withRC(bag.TSID())

	it := NewItem(tsid.New(tsid.TagItem))
	bag.AddContent(ctx, it)
	count, ok, err := bag.GetAttr(ctx, "itemCount")
	if err != nil || !ok || count != 1 {
		t.Fatalf("itemCount = %v, %v, %v", count, ok, err)
	}
	bag.RemoveContent(ctx, it.TSID())
	count, _, _ = bag.GetAttr(ctx, "itemCount")
	if count != 0 {
		t.Fatalf("expected itemCount 0 after removal, got %v", count)
	}
}

func TestGroupMembership(t *testing.T) {
	g := NewGroup(tsid.New(tsid.TagGroup))
	ctx := withRC(g.TSID())
	m1 := tsid.New(tsid.TagPlayer)

	g.AddMember(ctx, m1)
	g.AddMember(ctx, m1) // dedup
	if len(g.Members()) != 1 {
		t.Fatalf("expected 1 member after dedup add, got %d", len(g.Members()))
	}
	g.RemoveMember(ctx, m1)
	if len(g.Members()) != 0 {
		t.Fatal("expected member removed")
	}
}

func TestQuestAndDataContainerOwnerAttr(t *testing.T) {
	q := NewQuest(tsid.New(tsid.TagQuest))
	ctx := withRC(q.TSID())
	owner := objref.NewProxy(objref.Ref{TSID: tsid.New(tsid.TagPlayer)}, nopResolver{})
	q.SetOwner(ctx, owner)
	q.SetState(ctx, "started")

	v, ok, err := q.GetAttr(ctx, "state")
	if err != nil || !ok || v != "started" {
		t.Fatalf("state attr = %v, %v, %v", v, ok, err)
	}

	dc := NewDataContainer(tsid.New(tsid.TagDataContainer))
	dc.SetOwner(ctx, owner)
	body, err := dc.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, present := body["owner"]; !present {
		t.Fatal("expected owner ref in serialized body")
	}
}
