// Package unload implements the location self-unload sweep: a periodic
// timer that checks every resident Location for the unload
// precondition (no connected player, no item with an active timer)
// and, when met, enqueues a close=true request that cascades the
// unload and tears the location's queue down.
package unload

import (
	"context"
	"log/slog"
	"time"

	"github.com/udisondev/shardrealm/internal/cache"
	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/queue"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// defaultInterval is used when the configured pers.locUnloadInt is zero.
const defaultInterval = 5 * time.Minute

// Checker owns the periodic sweep over one shard's resident locations.
type Checker struct {
	cache    *cache.Cache
	queues   *queue.Manager
	interval time.Duration
	log      *slog.Logger
}

// NewChecker builds a Checker sweeping c every interval (or
// defaultInterval if interval <= 0) and driving unloads through qm.
func NewChecker(c *cache.Cache, qm *queue.Manager, interval time.Duration, log *slog.Logger) *Checker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Checker{cache: c, queues: qm, interval: interval, log: log}
}

// Run blocks, sweeping every interval, until ctx is cancelled.
func (ch *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(ch.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ch.sweep(ctx)
		}
	}
}

// sweep snapshots every resident Location tsid, then evaluates each one
// individually — the snapshot and checkOne's peek are heuristic reads
// outside any request queue; the pushed closure re-verifies the
// precondition on the location's own queue before committing to the
// unload, so a join that landed ahead of it aborts the unload instead
// of being evicted out from under the player.
func (ch *Checker) sweep(ctx context.Context) {
	var candidates []tsid.TSID
	ch.cache.Range(func(id tsid.TSID, e entity.Entity) bool {
		if id.Tag() == tsid.TagLocation {
			candidates = append(candidates, id)
		}
		return true
	})
	for _, id := range candidates {
		ch.checkOne(ctx, id)
	}
}

func (ch *Checker) checkOne(ctx context.Context, id tsid.TSID) {
	obj, ok := ch.cache.Peek(id)
	if !ok {
		return
	}
	loc, ok := obj.(*entity.Location)
	if !ok {
		return
	}
	if loc.PlayerCount() > 0 {
		return
	}
	for _, it := range loc.Items() {
		if it.IsBusy() {
			return
		}
	}

	q := ch.queues.For(id)
	err := q.Push(func(ctx context.Context) (any, error) {
		// Authoritative recheck: a join pushed onto this queue ahead of
		// the unload may have landed since the heuristic peek above.
		if loc.PlayerCount() > 0 {
			return false, nil
		}
		for _, it := range loc.Items() {
			if it.IsBusy() {
				return false, nil
			}
		}

		rc := reqctx.MustFromContext(ctx)
		for _, it := range loc.Items() {
			it.StopTimer(ctx)
		}
		loc.ClearPlayers(ctx)
		rc.SetUnload(loc)
		if geo := loc.Geometry(); geo != nil {
			rc.SetUnload(geo)
		}
		return true, nil
	}, func(result any, err error) {
		// The close=true push shut this queue down whatever happened;
		// drop it so the next request against this owner allocates a
		// fresh one instead of hitting QueueClosed forever.
		ch.queues.Drop(id)
		if err != nil {
			ch.log.Error("location unload failed", "tsid", id, "error", err)
			return
		}
		if unloaded, _ := result.(bool); !unloaded {
			ch.log.Debug("location unload aborted, no longer idle", "tsid", id)
			return
		}
		ch.log.Info("location unloaded", "tsid", id)
	}, true)
	if err != nil {
		ch.log.Debug("skipping unload, queue already draining", "tsid", id, "error", err)
	}
}
