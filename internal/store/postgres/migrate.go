package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/at/internal/config"
	"github.com/rakunlabs/muz"
)

//go:embed migrations/*
var migrationFS embed.FS

// MigrateDB opens its own short-lived connection and runs schema migrations
// before New opens the long-lived pool, so a fresh database always has
// every table the CRUD layer expects.
func MigrateDB(ctx context.Context, cfg *config.Migrate) error {
	if cfg == nil {
		return errors.New("migrate configuration is nil")
	}

	if cfg.Datasource == "" {
		return errors.New("migrate datasource is required")
	}

	table := cfg.Table
	if table == "" {
		table = "migrations"
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migration connection: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
	}

	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    cfg.Values,
	}

	driver := muz.NewPostgresDriver(db, table, slog.Default())

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
