package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"launchpad-ledger/internal/config"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/rewards"
	"launchpad-ledger/internal/solana"
	"launchpad-ledger/internal/staking"
	"launchpad-ledger/internal/storage"
	chstore "launchpad-ledger/internal/storage/clickhouse"
	"launchpad-ledger/internal/storage/memory"
	"launchpad-ledger/internal/storage/migrations"
	pgstore "launchpad-ledger/internal/storage/postgres"
	"launchpad-ledger/internal/trading"
)

// stores holds the ledger store and the price-tick mirror target.
type stores struct {
	ledger storage.LedgerStore
	ticks  storage.PriceTickStore
}

// createStores opens the configured backends. The memory backend also
// serves price ticks unless a ClickHouse DSN is set.
func createStores(ctx context.Context, sc config.StorageConfig) (*stores, func(), error) {
	var (
		out     stores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch sc.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN, 0)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		if sc.MigrateOnStart {
			if _, err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		out.ledger = pgstore.NewLedgerStore(pool)
	default:
		out.ledger = memory.NewLedgerStore()
	}

	if sc.ClickHouseDSN == "" {
		out.ticks = memory.NewPriceTickStore()
		log.Ctx(ctx).Info().Str("ledger_backend", sc.Backend).Str("tick_backend", "memory").Msg("stores ready")
		return &out, cleanup, nil
	}

	var (
		conn *chstore.Conn
		err  error
	)
	if sc.MigrateOnStart {
		conn, err = migrations.RunClickhouseMigrations(ctx, sc.ClickHouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, sc.ClickHouseDSN)
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	closers = append(closers, func() { conn.Close() })
	out.ticks = chstore.NewPriceTickStore(conn)

	log.Ctx(ctx).Info().Str("ledger_backend", sc.Backend).Str("tick_backend", "clickhouse").Msg("stores ready")
	return &out, cleanup, nil
}

// components are the ledger services wired to one set of stores.
type components struct {
	trading *trading.Processor
	staking *staking.Ledger
	rewards *rewards.Distributor
}

func newComponents(c *config.Config, st *stores, tradeObs []trading.Observer, rewardObs []rewards.Observer) (*components, error) {
	curve, err := c.Trading.Curve()
	if err != nil {
		return nil, err
	}

	rpc := solana.NewHTTPClient(c.Solana.RPCURL,
		solana.WithTimeout(c.Solana.Timeout),
		solana.WithMaxRetries(c.Solana.MaxRetries),
		solana.WithCommitment(c.Solana.Commitment),
	)

	return &components{
		trading: trading.New(trading.Options{
			Store: st.ledger,
			Config: trading.Config{
				Curve:                  curve,
				DecrementHoldingOnSell: c.Trading.DecrementHoldingOnSell,
				ConflictAttempts:       c.Trading.ConflictAttempts,
			},
			Observers: tradeObs,
		}),
		staking: staking.New(staking.Options{
			Store:            st.ledger,
			Oracle:           solana.NewBalanceOracle(rpc),
			AssetID:          c.Solana.AssetID,
			ValidateWallet:   solana.ValidateWalletAddress,
			ConflictAttempts: c.Trading.ConflictAttempts,
		}),
		rewards: rewards.New(rewards.Options{
			Store: st.ledger,
			Config: rewards.Config{
				Interval:         c.Rewards.Interval,
				Slack:            c.Rewards.Slack,
				ConflictAttempts: ledger.DefaultConflictAttempts,
			},
			Observers: rewardObs,
		}),
	}, nil
}
