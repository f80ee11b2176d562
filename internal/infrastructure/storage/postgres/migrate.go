package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"pharmaledger/pkg/logger"
)

// migrationsDir is where the embedded filesystem keeps the goose SQL files.
const migrationsDir = "migrations"

// NewMigrator returns a goose provider over the migrations directory of fsys. A Postgres
// session lock keeps concurrently starting servers from migrating twice. Applied versions
// live in goose's own table, so the goose CLI sees the same state.
func NewMigrator(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	dir, err := fs.Sub(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations dir: %w", err)
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration lock: %w", err)
	}
	return goose.NewProvider(goose.DialectPostgres, db, dir, goose.WithSessionLocker(locker))
}

// Migrate applies every pending migration of fsys over a database/sql view of pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := NewMigrator(db, fsys)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info(ctx, "migration applied",
			"version", r.Source.Version,
			"file", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}
