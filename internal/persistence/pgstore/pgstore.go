// Package pgstore is the production persistence.Gateway: one row per
// TSID in an "entities" table, body stored as JSONB.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/shardrealm/internal/config"
	"github.com/udisondev/shardrealm/internal/persistence"
	"github.com/udisondev/shardrealm/internal/tsid"
)

var _ persistence.Gateway = (*Store)(nil)

// Store is a pgxpool-backed Gateway.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database described by cfg and pings it once to
// surface a bad DSN immediately rather than on first query.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if d, err := time.ParseDuration(cfg.MaxConnLifetime); err == nil && d > 0 {
		poolCfg.MaxConnLifetime = d
	}
	if d, err := time.ParseDuration(cfg.MaxConnIdleTime); err == nil && d > 0 {
		poolCfg.MaxConnIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HealthCheckPeriod); err == nil && d > 0 {
		poolCfg.HealthCheckPeriod = d
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Read(ctx context.Context, id tsid.TSID) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM entities WHERE tsid = $1`, string(id)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: read %s: %w", id, err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal %s: %w", id, err)
	}
	return body, nil
}

func (s *Store) Write(ctx context.Context, id tsid.TSID, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pgstore: marshal %s: %w", id, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (tsid, tag, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tsid) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, string(id), string(id.Tag()), raw)
	if err != nil {
		return fmt.Errorf("pgstore: write %s: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id tsid.TSID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE tsid = $1`, string(id))
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying connection pool for the migration runner.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
