package cache

import (
	"context"
	"log/slog"

	"github.com/udisondev/shardrealm/internal/entity"
)

// ScriptHost is the pluggable hook surface a game-logic layer attaches
// to entity lifecycle events (gsOnLoad, onLogout and the rest of the
// scripting surface). A hook's error is always logged and never aborts
// the operation that triggered it — load,
// create, and session transitions must succeed independent of script
// bugs.
type ScriptHost interface {
	OnCreate(ctx context.Context, e entity.Entity) error
	OnLoad(ctx context.Context, e entity.Entity) error
	OnPlayerEnter(ctx context.Context, p *entity.Player) error
	OnPlayerExit(ctx context.Context, p *entity.Player) error
	OnContainerItemStateChanged(ctx context.Context, container entity.Entity, item *entity.Item) error
}

// NopHooks is a ScriptHost that does nothing, used where no scripting
// layer is configured.
type NopHooks struct{}

func (NopHooks) OnCreate(context.Context, entity.Entity) error { return nil }
func (NopHooks) OnLoad(context.Context, entity.Entity) error { return nil }
func (NopHooks) OnPlayerEnter(context.Context, *entity.Player) error { return nil }
func (NopHooks) OnPlayerExit(context.Context, *entity.Player) error { return nil }
func (NopHooks) OnContainerItemStateChanged(context.Context, entity.Entity, *entity.Item) error {
	return nil
}

func logHookErr(log *slog.Logger, hook string, id string, err error) {
	if err == nil {
		return
	}
	log.Error("script hook failed", "hook", hook, "tsid", id, "error", err)
}
