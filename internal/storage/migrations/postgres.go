package migrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"launchpad-ledger/internal/storage/postgres"
)

const createVersionsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies every embedded ledger migration that is not
// yet recorded in schema_migrations. Each file commits together with its
// version row, so a failed file leaves no partial schema behind.
// It returns the versions applied by this call.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, createVersionsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range files {
		start := time.Now()
		done, err := applyPostgres(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if !done {
			continue
		}
		applied = append(applied, m.Version)
		log.Ctx(ctx).Info().
			Str("component", "migrations").
			Str("database", "postgres").
			Str("version", m.Version).
			Dur("duration", time.Since(start)).
			Msg("migration applied")
	}
	return applied, nil
}

// applyPostgres runs m unless its version is already recorded. The version
// row is inserted first so concurrent runners serialize on its primary key.
func applyPostgres(ctx context.Context, pool *postgres.Pool, m migration) (bool, error) {
	var applied bool
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var version string
		err := tx.QueryRow(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)
			 ON CONFLICT (version) DO NOTHING
			 RETURNING version`, m.Version).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
