package shard

import (
	"testing"

	"github.com/udisondev/shardrealm/internal/tsid"
)

func testTable() []Entry {
	return []Entry{
		{ID: "shard-1", Host: "127.0.0.1", RPCPort: 9101},
		{ID: "shard-2", Host: "127.0.0.1", RPCPort: 9102},
		{ID: "shard-3", Host: "127.0.0.1", RPCPort: 9103},
	}
}

func TestNewRejectsUnknownLocalID(t *testing.T) {
	if _, err := New("shard-9", testTable()); err == nil {
		t.Fatal("expected error for local id absent from table")
	}
}

func TestMapToShardIsDeterministic(t *testing.T) {
	r, err := New("shard-1", testTable())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	id := tsid.New(tsid.TagPlayer)
	first := r.MapToShard(id)
	for i := 0; i < 10; i++ {
		if got := r.MapToShard(id); got != first {
			t.Fatalf("MapToShard not deterministic: %s vs %s", got, first)
		}
	}
}

func TestMakeLocalTSIDAlwaysMapsHome(t *testing.T) {
	r, err := New("shard-2", testTable())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 50; i++ {
		id, err := r.MakeLocalTSID(tsid.TagLocation)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		if !r.IsLocal(id) {
			t.Fatalf("minted tsid %s does not map to local shard", id)
		}
		if id.Tag() != tsid.TagLocation {
			t.Fatalf("expected tag L, got %s", id.Tag())
		}
	}
}

func TestEntryLookup(t *testing.T) {
	r, err := New("shard-1", testTable())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e, ok := r.Entry("shard-2")
	if !ok || e.RPCPort != 9102 {
		t.Fatalf("unexpected entry: %#v, %v", e, ok)
	}
	if _, ok := r.Entry("shard-9"); ok {
		t.Fatal("expected missing entry")
	}
}
