package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/udisondev/shardrealm/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration against cfg's database,
// using a standalone database/sql connection since goose doesn't speak
// pgx's native pool.
func Migrate(ctx context.Context, cfg config.DatabaseConfig) error {
	connCfg, err := pgx.ParseConfig(cfg.PlainDSN())
	if err != nil {
		return fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	db := sql.OpenDB(stdlib.GetConnector(*connCfg))
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("pgstore: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}
