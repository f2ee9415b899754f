package entity

import "testing"

func TestNewBoundedPropertyClampsSeed(t *testing.T) {
	p := NewBoundedProperty("hp", 0, 100, 150, false)
	if p.Value() != 100 {
		t.Fatalf("expected seed clamped to top, got %d", p.Value())
	}
	if p.Changed() {
		t.Fatal("seeding must not flip changed")
	}
}

func TestBoundedPropertyFloorsAndClamps(t *testing.T) {
	p := NewBoundedProperty("hp", 0, 100, 50, false)
	p.SetVal(72.9)
	if p.Value() != 72 {
		t.Fatalf("expected floor(72.9)=72, got %d", p.Value())
	}
	if !p.Changed() {
		t.Fatal("expected changed after SetVal")
	}
	p.ClearChanged()

	p.Dec(1000)
	if p.Value() != 0 {
		t.Fatalf("expected clamp to bottom, got %d", p.Value())
	}

	p.Inc(1000)
	if p.Value() != 100 {
		t.Fatalf("expected clamp to top, got %d", p.Value())
	}
}

func TestBoundedPropertyMult(t *testing.T) {
	p := NewBoundedProperty("atk", 0, 1000, 10, false)
	p.ClearChanged()
	p.Mult(2.5)
	if p.Value() != 25 {
		t.Fatalf("expected floor(25.0)=25, got %d", p.Value())
	}
}

func TestBoundedPropertyNoOpDoesNotFlipChanged(t *testing.T) {
	p := NewBoundedProperty("hp", 0, 100, 50, false)
	p.ClearChanged()
	p.SetVal(50)
	if p.Changed() {
		t.Fatal("setting to the same value must not flip changed")
	}
}

func TestPropertiesChangedDiff(t *testing.T) {
	ps := Properties{
		"hp": NewBoundedProperty("hp", 0, 100, 50, false),
		"mp": NewBoundedProperty("mp", 0, 100, 50, false),
		"xp": NewBoundedProperty("xp", 0, 1_000_000, 0, true),
	}
	ps["hp"].SetVal(80)
	ps["xp"].SetVal(10)

	diff := ps.ChangedDiff()
	if len(diff) != 1 || diff["hp"] != 80 {
		t.Fatalf("expected only hp in diff, got %#v", diff)
	}
	if ps["hp"].Changed() {
		t.Fatal("ChangedDiff must clear the changed flag")
	}
	if ps["xp"].Changed() {
		t.Fatal("noClientDiff property should still have changed cleared")
	}
}
