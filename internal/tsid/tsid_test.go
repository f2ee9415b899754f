package tsid

import "testing"

func TestNewHasExpectedTag(t *testing.T) {
	id := New(TagPlayer)
	if id.Tag() != TagPlayer {
		t.Fatalf("tag = %v, want %v", id.Tag(), TagPlayer)
	}
	if !id.Valid() {
		t.Fatalf("expected %q to be valid", id)
	}
	if len(id.Suffix()) != suffixLen {
		t.Fatalf("suffix length = %d, want %d", len(id.Suffix()), suffixLen)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{"", "X", "ZABCDEF"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) expected error", c)
		}
	}
}

func TestParseAcceptsAllTags(t *testing.T) {
	for _, tag := range []Tag{TagLocation, TagGeometry, TagPlayer, TagItem, TagBag, TagGroup, TagQuest, TagDataContainer} {
		id := New(tag)
		parsed, err := Parse(id.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
		if parsed != id {
			t.Fatalf("roundtrip mismatch: %q != %q", parsed, id)
		}
	}
}

func TestGeometryOfSharesSuffix(t *testing.T) {
	loc := New(TagLocation)
	geo := GeometryOf(loc)
	if geo.Tag() != TagGeometry {
		t.Fatalf("geo tag = %v, want %v", geo.Tag(), TagGeometry)
	}
	if geo.Suffix() != loc.Suffix() {
		t.Fatalf("suffix mismatch: %q != %q", geo.Suffix(), loc.Suffix())
	}
}

func TestGeometryOfPanicsOnWrongTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-location tsid")
		}
	}()
	GeometryOf(New(TagPlayer))
}

func TestUniqueness(t *testing.T) {
	seen := make(map[TSID]bool)
	for range 1000 {
		id := New(TagItem)
		if seen[id] {
			t.Fatalf("duplicate tsid minted: %q", id)
		}
		seen[id] = true
	}
}
