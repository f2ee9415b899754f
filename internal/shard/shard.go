// Package shard implements the Shard Router: the TSID-to-shard mapping
// every cross-entity lookup consults, and the bounded-retry local
// minting that keeps freshly created top-level entities on the shard
// that created them.
package shard

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/udisondev/shardrealm/internal/tsid"
)

// Entry is one row of the shard table: an id and its RPC endpoint.
type Entry struct {
	ID      string
	Host    string
	RPCPort int
}

// Router maps TSIDs to owning shards by a stable hash of the TSID over
// the configured shard table, and mints fresh local TSIDs that always
// land on this shard: top-level entities are minted on the shard that
// will own them, so a local TSID always maps back home.
type Router struct {
	localID string
	entries []Entry // sorted by ID for deterministic hashing
}

// New builds a Router over table, identifying localID as this process's
// own shard. localID must appear in table.
func New(localID string, table []Entry) (*Router, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("shard: empty shard table")
	}
	found := false
	entries := append([]Entry(nil), table...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for _, e := range entries {
		if e.ID == localID {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("shard: local shard id %q not present in shard table", localID)
	}
	return &Router{localID: localID, entries: entries}, nil
}

// LocalShardID returns this process's own shard id.
func (r *Router) LocalShardID() string { return r.localID }

// Entries returns the full shard table, including the local entry.
func (r *Router) Entries() []Entry { return append([]Entry(nil), r.entries...) }

// Entry returns the shard table row for id, if present.
func (r *Router) Entry(id string) (Entry, bool) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// MapToShard hashes id's own suffix into the shard table. This is the
// direct-hash primitive used for Location, Geometry, and Group TSIDs
// only — Geometry shares its paired Location's suffix, so hashing it
// directly lands on the same shard for free. Player, Item/Bag, and
// Quest/DataContainer TSIDs do NOT hash to their owning shard this way
// (their ownership is derived from a location/container/owner backref);
// internal/cache.Cache is the component that dispatches on tag and
// consults those backrefs before ever calling this method for a
// derived-ownership TSID.
func (r *Router) MapToShard(id tsid.TSID) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Suffix()))
	idx := int(h.Sum32()) % len(r.entries)
	if idx < 0 {
		idx += len(r.entries)
	}
	return r.entries[idx].ID
}

// IsLocal reports whether id is owned by this process's shard.
func (r *Router) IsLocal(id tsid.TSID) bool {
	return r.MapToShard(id) == r.localID
}

// maxMintAttempts bounds the retry loop in MakeLocalTSID before giving
// up. With n shards each random candidate maps here with probability
// about 1/n, so all 64 miss with probability about ((n-1)/n)^64: about
// 5e-12 for 3 shards, about 0.1% for 10, and rising as the table grows.
const maxMintAttempts = 64

// MakeLocalTSID mints a fresh TSID of the given type tag that maps back
// to this shard, retrying up to maxMintAttempts times. Returns an error
// when every attempt maps to another shard, which becomes more likely
// the larger the shard table is. Candidates are not checked for
// collisions with existing TSIDs.
func (r *Router) MakeLocalTSID(tag tsid.Tag) (tsid.TSID, error) {
	for i := 0; i < maxMintAttempts; i++ {
		id := tsid.New(tag)
		if r.IsLocal(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("shard: could not mint a local tsid for tag %s after %d attempts", tag, maxMintAttempts)
}
