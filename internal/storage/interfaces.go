package storage

import (
	"context"

	"launchpad-ledger/internal/domain"
)

// LedgerReader provides committed-state reads outside of a unit of work.
type LedgerReader interface {
	// GetToken retrieves a token by ID. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, tokenID string) (*domain.Token, error)

	// ListTokens retrieves all tokens ordered by creation time, then ID.
	ListTokens(ctx context.Context) ([]*domain.Token, error)

	// GetHolding retrieves the holding for (user, token). Returns ErrNotFound if not exists.
	GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error)

	// ListTradesByToken retrieves all trades for a token in commit order.
	ListTradesByToken(ctx context.Context, tokenID string) ([]*domain.Trade, error)

	// GetStakingAccount retrieves a staking account. Returns ErrNotFound if not exists.
	GetStakingAccount(ctx context.Context, userID string) (*domain.StakingAccount, error)

	// GetPoolConfig retrieves the singleton pool configuration. Returns ErrNotFound if not seeded.
	GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error)

	// ListTransactionsByUser retrieves all ledger transactions for a user in commit order.
	ListTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)
}

// LedgerTx is one atomic unit of work. Reads observe the unit's own pending
// writes. Nothing is visible to other readers until the unit commits, and a
// unit that returns an error leaves no trace.
type LedgerTx interface {
	// GetToken retrieves a token by ID. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, tokenID string) (*domain.Token, error)

	// InsertToken adds a new token. Returns ErrDuplicateKey if the ID exists.
	InsertToken(ctx context.Context, t *domain.Token) error

	// UpdateToken overwrites mutable token fields if the stored version equals
	// expectedVersion. Returns ErrConflict otherwise, ErrNotFound if missing.
	UpdateToken(ctx context.Context, t *domain.Token, expectedVersion int64) error

	// GetHolding retrieves the holding for (user, token). Returns ErrNotFound if not exists.
	GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error)

	// UpsertHolding creates the holding when expectedVersion is 0, otherwise
	// updates it conditionally. Returns ErrConflict if the version check fails
	// or a concurrent unit created the same holding first.
	UpsertHolding(ctx context.Context, h *domain.Holding, expectedVersion int64) error

	// InsertTrade appends a trade and assigns its Seq. Returns ErrDuplicateKey if the ID exists.
	InsertTrade(ctx context.Context, t *domain.Trade) error

	// GetStakingAccount retrieves a staking account. Returns ErrNotFound if not exists.
	GetStakingAccount(ctx context.Context, userID string) (*domain.StakingAccount, error)

	// UpsertStakingAccount creates the account when expectedVersion is 0,
	// otherwise updates it conditionally. Returns ErrConflict on version mismatch.
	UpsertStakingAccount(ctx context.Context, a *domain.StakingAccount, expectedVersion int64) error

	// ListActiveStakers retrieves all accounts with staked_amount > 0, ordered by user ID.
	ListActiveStakers(ctx context.Context) ([]*domain.StakingAccount, error)

	// GetPoolConfig retrieves the singleton pool configuration. Returns ErrNotFound if not seeded.
	GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error)

	// UpdatePoolConfig overwrites the pool configuration if the stored version
	// equals expectedVersion (0 seeds an empty pool). Returns ErrConflict otherwise.
	UpdatePoolConfig(ctx context.Context, p *domain.PoolConfig, expectedVersion int64) error

	// InsertTransaction appends a ledger transaction and assigns its Seq.
	// Returns ErrDuplicateKey if the ID exists.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
}

// LedgerStore is the durable ledger: committed reads plus atomic units of work.
type LedgerStore interface {
	LedgerReader

	// InTx runs fn inside one atomic unit of work. The unit commits only if fn
	// returns nil; any error (from fn or from commit) rolls back every write.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// PriceTickStore provides access to the trade price-tick analytics mirror.
type PriceTickStore interface {
	// InsertBulk adds multiple ticks.
	InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error

	// GetByTimeRange retrieves ticks for a token within [start, end] (inclusive, ms), ordered by seq ASC.
	GetByTimeRange(ctx context.Context, tokenID string, start, end int64) ([]*domain.PriceTick, error)
}
