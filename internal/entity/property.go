package entity

import "math"

// BoundedProperty is a numeric gauge with bottom ≤ value ≤ top.
// Mutators floor results to integers and silently clamp to limits;
// any mutation that actually changes value flips Changed, which the
// outbound diff (internal/diff) consumes and clears after flushing.
type BoundedProperty struct {
	name         string
	bottom, top  int64
	value        int64
	changed      bool
	noClientDiff bool
}

// NewBoundedProperty creates a gauge clamped to [bottom, top], seeded at
// value (itself clamped). noClientDiff excludes this property from the
// outbound property-diff walk.
func NewBoundedProperty(name string, bottom, top, value int64, noClientDiff bool) *BoundedProperty {
	p := &BoundedProperty{name: name, bottom: bottom, top: top, noClientDiff: noClientDiff}
	p.apply(float64(value))
	p.changed = false // seeding is not a "change" for diff purposes
	return p
}

func (p *BoundedProperty) Name() string { return p.name }
func (p *BoundedProperty) Bottom() int64 { return p.bottom }
func (p *BoundedProperty) Top() int64 { return p.top }
func (p *BoundedProperty) Value() int64 { return p.value }
func (p *BoundedProperty) Changed() bool { return p.changed }
func (p *BoundedProperty) NoClientDiff() bool { return p.noClientDiff }

// ClearChanged resets the changed flag once the outbound diff has
// consumed it.
func (p *BoundedProperty) ClearChanged() { p.changed = false }

// SetVal sets value directly (floored, clamped).
func (p *BoundedProperty) SetVal(v float64) { p.apply(v) }

// Inc adds delta (floored, clamped).
func (p *BoundedProperty) Inc(delta float64) { p.apply(float64(p.value) + delta) }

// Dec subtracts delta (floored, clamped).
func (p *BoundedProperty) Dec(delta float64) { p.apply(float64(p.value) - delta) }

// Mult scales value by factor (floored, clamped).
func (p *BoundedProperty) Mult(factor float64) { p.apply(float64(p.value) * factor) }

func (p *BoundedProperty) apply(v float64) {
	floored := int64(math.Floor(v))
	if floored < p.bottom {
		floored = p.bottom
	}
	if floored > p.top {
		floored = p.top
	}
	if floored != p.value {
		p.value = floored
		p.changed = true
	}
}

// Properties is a named collection of BoundedProperty, the shape Player
// uses for its stats table.
type Properties map[string]*BoundedProperty

// ChangedDiff returns {name: value} for every property whose Changed
// flag is set and that isn't flagged NoClientDiff, clearing Changed on
// the way out.
func (ps Properties) ChangedDiff() map[string]int64 {
	diff := make(map[string]int64)
	for name, p := range ps {
		if !p.changed {
			continue
		}
		p.changed = false
		if p.noClientDiff {
			continue
		}
		diff[name] = p.value
	}
	return diff
}
