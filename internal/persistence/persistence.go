// Package persistence defines the narrow Gateway interface the Request
// Engine's commit phase talks to, plus the concrete backends: pgstore
// (pgx-backed, for production) and memstore (in-memory, for fast
// tests).
package persistence

import (
	"context"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Gateway is the full surface a commit phase needs: load a persisted
// body by TSID, write a dirty entity's serialized body, or delete one
// marked deleted. Implementations own their own retry/backoff policy;
// the Request Engine does not retry on failure — dirty objects simply
// stay in memory until a later commit succeeds.
type Gateway interface {
	// Read loads the persisted body for id, returning (nil, nil) if no
	// such TSID has ever been written.
	Read(ctx context.Context, id tsid.TSID) (map[string]any, error)
	// Write persists body under id, overwriting any prior value.
	Write(ctx context.Context, id tsid.TSID, body map[string]any) error
	// Delete removes id's persisted body, if any.
	Delete(ctx context.Context, id tsid.TSID) error
	// Close releases backend resources (connection pools and the like).
	Close() error
}

// Entity is the minimal shape the commit phase needs from a dirty or
// deleted object to persist it.
type Entity interface {
	TSID() tsid.TSID
	IsDeleted() bool
	Serialize() (map[string]any, error)
}

// Commit persists a batch of dirty/deleted entities against gw, in
// write-then-delete order: all non-deleted writes are attempted first,
// and the deletes only run if every write succeeded. A write failure
// leaves the
// deletes unattempted and returns the first error encountered — the
// caller's dirty set stays populated for a future retry.
func Commit(ctx context.Context, gw Gateway, dirty []Entity) error {
	var deletes []Entity
	for _, e := range dirty {
		if e.IsDeleted() {
			deletes = append(deletes, e)
			continue
		}
		body, err := e.Serialize()
		if err != nil {
			return &shardrealmerr.PersistenceError{TSID: string(e.TSID()), Op: "write", Err: err}
		}
		if err := gw.Write(ctx, e.TSID(), body); err != nil {
			return &shardrealmerr.PersistenceError{TSID: string(e.TSID()), Op: "write", Err: err}
		}
	}
	for _, e := range deletes {
		if err := gw.Delete(ctx, e.TSID()); err != nil {
			return &shardrealmerr.PersistenceError{TSID: string(e.TSID()), Op: "del", Err: err}
		}
	}
	return nil
}
