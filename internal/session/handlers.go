package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/udisondev/shardrealm/internal/cache"
	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/queue"
	"github.com/udisondev/shardrealm/internal/shardrealmerr"
	"github.com/udisondev/shardrealm/internal/tsid"
)

// Handler answers one logged-in wire message, running inside the bound
// player's request queue. A non-nil Message return value becomes the
// payload of the success envelope; an error becomes the payload of the
// error envelope instead.
type Handler func(ctx context.Context, sess *Session, msg Message) (Message, error)

// runOnQueue pushes fn onto owner's queue and blocks until its commit
// completes — the same bridge the RPC obj handler uses to run a
// cross-shard call in the callee's request context, applied to the
// same-shard case. Entity state is only ever touched on its owner's
// queue, so cross-owner work inside a request hops queues instead of
// mutating directly; the mutation also commits through its owner's
// queue rather than piggybacking on the caller's.
func runOnQueue(qm *queue.Manager, owner tsid.TSID, fn queue.Fn) error {
	done := make(chan error, 1)
	if err := qm.For(owner).Push(fn, func(result any, err error) { done <- err }, false); err != nil {
		return err
	}
	return <-done
}

// LoginEnd builds the built-in login_end handler: it resolves the
// player, marks it online, joins its current location, and fires the
// enter hook to finish the login handshake once login_start has
// already authenticated the token.
func LoginEnd(qm *queue.Manager, c *cache.Cache, hooks cache.ScriptHost) Handler {
	return func(ctx context.Context, sess *Session, msg Message) (Message, error) {
		player, err := loadPlayer(ctx, c, sess.Player())
		if err != nil {
			return nil, err
		}

		if err := player.SetOnline(ctx, sess); err != nil {
			return nil, err
		}

		if err := joinLocation(ctx, qm, c, player); err != nil {
			return nil, err
		}

		if err := hooks.OnPlayerEnter(ctx, player); err != nil {
			sess.l.log.Error("OnPlayerEnter hook failed", "player", player.TSID(), "error", err)
		}

		return Message{"tsid": string(player.TSID())}, nil
	}
}

// joinLocation inserts player into its location's player table, on the
// location's own queue — two players logging into the same location
// from different sessions serialize there instead of racing on the
// table from their own queues. A QueueClosed from a location draining
// for unload surfaces to the caller: the client's login retry arrives
// after the drain finishes and lands on the fresh queue the next For
// allocates.
func joinLocation(ctx context.Context, qm *queue.Manager, c *cache.Cache, player *entity.Player) error {
	ref := player.Location()
	if ref == nil {
		return nil
	}
	locEntity, err := c.Get(ctx, ref.TSID())
	if err != nil {
		return err
	}
	l, ok := locEntity.(*entity.Location)
	if !ok {
		// A remote proxy: the owning shard maintains membership.
		return nil
	}
	return runOnQueue(qm, l.TSID(), func(ctx context.Context) (any, error) {
		l.AddPlayer(ctx, player)
		return nil, nil
	})
}

// onDisconnect builds the teardown cascade run once a session's
// connection drops: the player goes offline and leaves its current
// location. No check is made for a cross-shard location move in
// progress; the player is removed from its location in every case.
func onDisconnect(qm *queue.Manager, c *cache.Cache, hooks cache.ScriptHost) func(ctx context.Context, sess *Session) error {
	return func(ctx context.Context, sess *Session) error {
		player, err := loadPlayer(ctx, c, sess.Player())
		if err != nil {
			return err
		}

		player.SetOffline(ctx)

		if err := leaveLocation(ctx, qm, c, player); err != nil {
			return err
		}

		if err := hooks.OnPlayerExit(ctx, player); err != nil {
			sess.l.log.Error("OnPlayerExit hook failed", "player", player.TSID(), "error", err)
		}
		return nil
	}
}

// leaveLocation removes player from its location's player table, on
// the location's own queue. A location already draining for unload is
// left alone: its unload cascade clears the whole player table anyway.
func leaveLocation(ctx context.Context, qm *queue.Manager, c *cache.Cache, player *entity.Player) error {
	ref := player.Location()
	if ref == nil {
		return nil
	}
	locEntity, err := c.Get(ctx, ref.TSID())
	if err != nil {
		return err
	}
	l, ok := locEntity.(*entity.Location)
	if !ok {
		return nil
	}
	err = runOnQueue(qm, l.TSID(), func(ctx context.Context) (any, error) {
		l.RemovePlayer(ctx, player.TSID())
		return nil, nil
	})
	var closed *shardrealmerr.QueueClosed
	if errors.As(err, &closed) {
		return nil
	}
	return err
}

func loadPlayer(ctx context.Context, c *cache.Cache, id tsid.TSID) (*entity.Player, error) {
	if id == "" {
		return nil, fmt.Errorf("session: no player bound")
	}
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, ok := e.(*entity.Player)
	if !ok {
		return nil, fmt.Errorf("session: tsid %s is not a player", id)
	}
	return p, nil
}
