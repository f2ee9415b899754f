// Package tsid implements the Total Stable IDentifier: the type-tagged,
// base-32 key that names every entity in the world forever.
package tsid

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Tag is the one-byte type prefix of a TSID.
type Tag byte

// Entity type tags.
const (
	TagLocation      Tag = 'L'
	TagGeometry      Tag = 'G'
	TagPlayer        Tag = 'P'
	TagItem          Tag = 'I'
	TagBag           Tag = 'B'
	TagGroup         Tag = 'R'
	TagQuest         Tag = 'Q'
	TagDataContainer Tag = 'D'
)

func (t Tag) String() string {
	return string(rune(t))
}

// Valid reports whether t is one of the closed set of entity tags.
func (t Tag) Valid() bool {
	switch t {
	case TagLocation, TagGeometry, TagPlayer, TagItem, TagBag, TagGroup, TagQuest, TagDataContainer:
		return true
	default:
		return false
	}
}

// TSID is the canonical stable identifier. The zero value is invalid.
type TSID string

// crockford32 avoids visually ambiguous characters (no I, L, O, U).
const crockford32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const suffixLen = 12

// New mints a fresh TSID with the given type tag and a random base-32 body.
// Equal TSIDs denote the same entity forever; New does not check a
// candidate against existing TSIDs, and neither does MakeLocalTSID in
// internal/shard, which only retries until a candidate maps locally.
func New(tag Tag) TSID {
	return TSID(tag.String() + randomSuffix(suffixLen))
}

// WithSuffix builds a TSID from an explicit tag and suffix — used when a
// derived entity must share its parent's suffix (e.g. a Location's paired
// Geometry, which reuses the Location's suffix with a 'G' tag instead of
// 'L').
func WithSuffix(tag Tag, suffix string) TSID {
	return TSID(tag.String() + suffix)
}

func randomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(crockford32[rand.IntN(len(crockford32))])
	}
	return b.String()
}

// Tag returns the type tag of id, or 0 if id is malformed.
func (id TSID) Tag() Tag {
	if len(id) == 0 {
		return 0
	}
	return Tag(id[0])
}

// Suffix returns the base-32 body of id (everything after the tag byte).
func (id TSID) Suffix() string {
	if len(id) < 1 {
		return ""
	}
	return string(id[1:])
}

// Valid reports whether id has a recognized tag and non-empty suffix.
func (id TSID) Valid() bool {
	return len(id) > 1 && id.Tag().Valid()
}

// String implements fmt.Stringer.
func (id TSID) String() string {
	return string(id)
}

// Parse validates s as a TSID and returns it typed.
func Parse(s string) (TSID, error) {
	id := TSID(s)
	if !id.Valid() {
		return "", fmt.Errorf("tsid: malformed id %q", s)
	}
	return id, nil
}

// GeometryOf returns the Geometry TSID paired 1:1 with a Location TSID,
// sharing its suffix under the 'G' tag. Panics if loc is not a Location
// TSID — callers are expected to have validated the tag already.
func GeometryOf(loc TSID) TSID {
	if loc.Tag() != TagLocation {
		panic(fmt.Sprintf("tsid: GeometryOf called with non-location tsid %q", loc))
	}
	return WithSuffix(TagGeometry, loc.Suffix())
}
