// Command shardctl is a small operator tool for poking at a running
// shard deployment: pinging a shard's RPC port, or showing which shard
// a given TSID routes to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/udisondev/shardrealm/internal/config"
	"github.com/udisondev/shardrealm/internal/rpc"
	"github.com/udisondev/shardrealm/internal/shard"
	"github.com/udisondev/shardrealm/internal/tsid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "ping":
		err = runPing(os.Args[2:])
	case "route":
		err = runRoute(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("shardctl", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: shardctl ping -config=path -shard=id")
	fmt.Fprintln(os.Stderr, "       shardctl route -config=path -tsid=...")
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	cfgPath := fs.String("config", "config/shard.yaml", "shard config path")
	shardID := fs.String("shard", "", "shard id to ping")
	timeout := fs.Duration("timeout", 5*time.Second, "dial/call timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *shardID == "" {
		return fmt.Errorf("shardctl: -shard is required")
	}

	router, cfg, err := buildRouter(*cfgPath)
	if err != nil {
		return err
	}
	entry, ok := router.Entry(*shardID)
	if !ok {
		return fmt.Errorf("shardctl: shard %q not present in %s's shard table", *shardID, cfg.ShardID)
	}

	addr := fmt.Sprintf("%s:%d", entry.Host, entry.RPCPort)
	dial := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	}
	client := rpc.NewClient(*shardID, dial, *timeout, 0, time.Second, slog.Default())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	raw, err := client.Call(ctx, "ping", nil)
	if err != nil {
		return fmt.Errorf("shardctl: ping %s (%s): %w", *shardID, addr, err)
	}
	fmt.Printf("%s (%s) is up: %s\n", *shardID, addr, string(raw))
	return nil
}

func runRoute(args []string) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	cfgPath := fs.String("config", "config/shard.yaml", "shard config path")
	rawTSID := fs.String("tsid", "", "tsid to route")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rawTSID == "" {
		return fmt.Errorf("shardctl: -tsid is required")
	}

	router, _, err := buildRouter(*cfgPath)
	if err != nil {
		return err
	}
	id, err := tsid.Parse(*rawTSID)
	if err != nil {
		return fmt.Errorf("shardctl: %w", err)
	}

	owner := router.MapToShard(id)
	switch id.Tag() {
	case tsid.TagLocation, tsid.TagGeometry, tsid.TagGroup:
		fmt.Printf("%s -> %s (local=%v)\n", id, owner, router.IsLocal(id))
	default:
		// Player/Item/Bag/Quest/DataContainer ownership is derived from a
		// location/container/owner backref, which this standalone CLI has
		// no persistence gateway to read. The raw hash below is not its
		// actual owning shard.
		fmt.Printf("%s: ownership is derived from a location/container/owner backref, not a direct hash\n", id)
		fmt.Printf("  raw suffix hash -> %s (informational only; run this query against the live shard instead)\n", owner)
	}
	return nil
}

func buildRouter(cfgPath string) (*shard.Router, config.Shard, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("loading config: %w", err)
	}
	entries := make([]shard.Entry, 0, len(cfg.GameServers))
	for _, e := range cfg.GameServers {
		entries = append(entries, shard.Entry{ID: e.ID, Host: e.Host, RPCPort: e.RPCPort})
	}
	router, err := shard.New(cfg.ShardID, entries)
	if err != nil {
		return nil, cfg, fmt.Errorf("building shard router: %w", err)
	}
	return router, cfg, nil
}
