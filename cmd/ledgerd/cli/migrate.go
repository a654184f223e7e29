package cli

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"launchpad-ledger/internal/config"
	"launchpad-ledger/internal/storage/migrations"
	pgstore "launchpad-ledger/internal/storage/postgres"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the PostgreSQL ledger schema and the ClickHouse price-tick schema",
		Args:  cobra.NoArgs,
		RunE:  migrate,
	}
}

func migrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := log.Ctx(ctx)

	if cfg.Storage.Backend != config.BackendPostgres && cfg.Storage.ClickHouseDSN == "" {
		return errors.New("nothing to migrate: set storage.backend=postgres or storage.clickhouse-dsn")
	}

	if cfg.Storage.Backend == config.BackendPostgres {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, 2)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info().Strs("applied", applied).Msg("postgres schema up to date")
	}

	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info().Msg("clickhouse schema up to date")
	}
	return nil
}
