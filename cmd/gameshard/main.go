// Command gameshard runs one shard process: the wire session listener,
// the shard-to-shard RPC server, the request engine, the live-object
// cache, and the location-unload sweep — the single shard-process
// deployment unit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/shardrealm/internal/authplugin"
	"github.com/udisondev/shardrealm/internal/cache"
	"github.com/udisondev/shardrealm/internal/config"
	"github.com/udisondev/shardrealm/internal/diff"
	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/objref"
	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/persistence/memstore"
	"github.com/udisondev/shardrealm/internal/persistence/pgstore"
	"github.com/udisondev/shardrealm/internal/queue"
	"github.com/udisondev/shardrealm/internal/reqctx"
	"github.com/udisondev/shardrealm/internal/rpc"
	"github.com/udisondev/shardrealm/internal/session"
	"github.com/udisondev/shardrealm/internal/shard"
	"github.com/udisondev/shardrealm/internal/tsid"
	"github.com/udisondev/shardrealm/internal/unload"
	"github.com/udisondev/shardrealm/internal/wirecrypt"
)

const (
	configPathEnv  = "SHARDREALM_CONFIG"
	defaultCfgPath = "config/shard.yaml"

	// queueTimeout bounds how long a single request closure may run
	// before the request engine logs a slow-request warning; it never
	// cancels the closure, only reports and keeps waiting.
	queueTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := defaultCfgPath
	if p := os.Getenv(configPathEnv); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(log)
	log.Info("shardrealm starting", "shard_id", cfg.ShardID, "log_level", cfg.LogLevel)

	gw, closeGW, err := openPersistence(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGW()

	entries := make([]shard.Entry, 0, len(cfg.GameServers))
	for _, e := range cfg.GameServers {
		entries = append(entries, shard.Entry{ID: e.ID, Host: e.Host, RPCPort: e.RPCPort})
	}
	router, err := shard.New(cfg.ShardID, entries)
	if err != nil {
		return fmt.Errorf("building shard router: %w", err)
	}

	rpcPool := rpc.NewPool(router, cfg.RPC.Timeout, cfg.RPC.ReconnectBuffer, cfg.RPC.PendingSweepEvery, log)
	defer rpcPool.CloseAll()
	remote := rpc.NewProxy(rpcPool)

	hooks := cache.NopHooks{}
	liveCache := cache.New(gw, router, remote, hooks, log)

	qm := queue.NewManager(gw, liveCache, queueTimeout, log)

	outbound := diff.New()
	auth := authplugin.NewRegistry()
	auth.Register("static", authplugin.NewStaticValidator(nil))

	frameCipher, err := buildCipher(cfg)
	if err != nil {
		return err
	}

	listener := session.NewListener(qm, liveCache, auth, cfg.AuthModule, hooks, session.Config{
		MaxMsgSize:    cfg.MaxMsgSize,
		Cipher:        frameCipher,
		WriteTimeout:  cfg.WriteTimeout,
		SendQueueSize: cfg.SendQueueSize,
		Log:           log,
	})

	qm.SetPostCommit(flushOutbound(outbound, liveCache, listener))

	// The method/api registries are empty until a gameplay layer
	// registers its functions; the attribute ops work regardless.
	objMethods := rpc.NewMethodRegistry()
	apiFuncs := rpc.NewAPIRegistry()

	rpcServer := rpc.NewServer(log)
	rpcServer.Handle("obj", rpc.ObjHandler(liveCache, qm, objMethods))
	rpcServer.Handle("api", rpc.APIHandler(apiFuncs))
	rpcServer.Handle("ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"shard_id": cfg.ShardID}, nil
	})

	checker := unload.NewChecker(liveCache, qm, cfg.Persistence.LocUnloadInt, log)

	localEntry, ok := router.Entry(cfg.ShardID)
	if !ok {
		return fmt.Errorf("shard id %q missing its own entry in the shard table", cfg.ShardID)
	}

	sessionLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))
	if err != nil {
		return fmt.Errorf("binding session listener: %w", err)
	}
	rpcLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, localEntry.RPCPort))
	if err != nil {
		return fmt.Errorf("binding rpc listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("session listener starting", "addr", sessionLn.Addr())
		err := listener.Serve(gctx, sessionLn)
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("session listener: %w", err)
	})

	g.Go(func() error {
		log.Info("rpc listener starting", "addr", rpcLn.Addr())
		err := rpcServer.Serve(gctx, rpcLn)
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("rpc listener: %w", err)
	})

	g.Go(func() error {
		log.Info("location-unload checker starting", "interval", cfg.Persistence.LocUnloadInt)
		if err := checker.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("unload checker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sessionLn.Close()
		rpcLn.Close()
		return nil
	})

	return g.Wait()
}

// itemLike is the slice of entity.Item (and, by embedding, entity.Bag)
// flushOutbound needs to build a queueChanges record — kept narrow so
// this package never has to special-case Item vs Bag.
type itemLike interface {
	entity.Entity
	Container() *objref.Proxy
	Slot() string
	Position() (x, y int32)
	Count() int64
	ClassTag() string
}

var (
	_ itemLike = (*entity.Item)(nil)
	_ itemLike = (*entity.Bag)(nil)
)

// flushOutbound builds the queue.Manager PostCommit hook that turns a
// request's dirty/local entities into the three outbound sources —
// property diffs, item changesets, and announcements — coalesces them
// per player, and ships the result to any currently-bound session.
func flushOutbound(outbound *diff.Outbound, liveCache *cache.Cache, l *session.Listener) func(ctx context.Context, rc *reqctx.Context) {
	return func(ctx context.Context, rc *reqctx.Context) {
		touched := make(map[tsid.TSID]struct{})

		for _, obj := range rc.Dirty() {
			switch v := obj.(type) {
			case *entity.Player:
				touched[v.TSID()] = struct{}{}
				diff.QueuePropertyDiff(outbound, v.TSID(), v)
			case itemLike:
				for _, id := range queueItemChange(outbound, liveCache, v) {
					touched[id] = struct{}{}
				}
			}
		}

		// Announcements are queued onto a player object that may not
		// itself have been mutated this request (e.g. a chat message
		// relayed through another entity's script hook), so scan every
		// object this request touched, not just the dirty set.
		for _, obj := range rc.Local() {
			p, ok := obj.(*entity.Player)
			if !ok {
				continue
			}
			anncs := p.DrainAnnc()
			if len(anncs) == 0 {
				continue
			}
			touched[p.TSID()] = struct{}{}
			for _, a := range anncs {
				outbound.QueueAnnc([]tsid.TSID{p.TSID()}, diff.Message{Type: "annc", Payload: a})
			}
		}

		for id := range touched {
			msgs := outbound.Flush(id)
			if len(msgs) == 0 {
				continue
			}
			sess, ok := l.Sessions().SessionForPlayer(id)
			if !ok {
				continue
			}
			for _, m := range msgs {
				sess.Send(toSessionMessage(m))
			}
		}
	}
}

// queueItemChange resolves its visibility (its own container, or —
// for an item inside a bag — the bag's container, transitively) and
// queues a changeset entry to every player who should see it: the
// single carrying player for "pc" scope, or every player currently in
// the containing location for "location" scope. Returns the recipient
// players so the caller flushes their sessions this cycle. The lookup
// only resolves containers already resident in the live cache; an
// unresolved intermediate container (e.g. a bag not yet loaded on this
// shard) means the change is silently dropped for this flush — the
// next property read of the container re-syncs it.
func queueItemChange(outbound *diff.Outbound, liveCache *cache.Cache, it itemLike) []tsid.TSID {
	container := it.Container()
	if container == nil {
		return nil
	}
	scope, recipients := itemRecipients(liveCache, container.TSID())
	if scope == "" || len(recipients) == 0 {
		return nil
	}
	x, y := it.Position()
	fields := diff.ItemFields{
		Count:     it.Count(),
		Slot:      it.Slot(),
		X:         x,
		Y:         y,
		ClassTSID: it.ClassTag(),
		Removed:   it.IsDeleted(),
	}
	for _, playerID := range recipients {
		outbound.QueueItemChange(playerID, scope, it.TSID(), fields)
	}
	return recipients
}

func itemRecipients(liveCache *cache.Cache, containerID tsid.TSID) (scope string, recipients []tsid.TSID) {
	switch containerID.Tag() {
	case tsid.TagPlayer:
		return "pc", []tsid.TSID{containerID}
	case tsid.TagLocation:
		obj, ok := liveCache.Peek(containerID)
		if !ok {
			return "", nil
		}
		loc, ok := obj.(*entity.Location)
		if !ok {
			return "", nil
		}
		ids := make([]tsid.TSID, 0, loc.PlayerCount())
		for id := range loc.Players() {
			ids = append(ids, id)
		}
		return "location", ids
	case tsid.TagBag:
		obj, ok := liveCache.Peek(containerID)
		if !ok {
			return "", nil
		}
		bag, ok := obj.(*entity.Bag)
		if !ok || bag.Container() == nil {
			return "", nil
		}
		return itemRecipients(liveCache, bag.Container().TSID())
	default:
		return "", nil
	}
}

func toSessionMessage(m diff.Message) session.Message {
	out := make(session.Message, len(m.Payload)+1)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = m.Type
	return out
}

func openPersistence(ctx context.Context, cfg config.Shard, log *slog.Logger) (persistence.Gateway, func(), error) {
	switch cfg.Persistence.BackEndModule {
	case "memory":
		log.Info("persistence backend: memory")
		return memstore.New(), func() {}, nil
	case "pgstore", "":
		log.Info("persistence backend: pgstore")
		if err := pgstore.Migrate(ctx, cfg.Database); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		store, err := pgstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("opening pgstore: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.BackEndModule)
	}
}

func buildCipher(cfg config.Shard) (*wirecrypt.Cipher, error) {
	if !cfg.FrameCipher {
		return wirecrypt.New(nil)
	}
	c, err := wirecrypt.New([]byte(cfg.FrameCipherKey))
	if err != nil {
		return nil, fmt.Errorf("building frame cipher: %w", err)
	}
	return c, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
