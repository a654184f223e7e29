package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/storage"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Each unit of work is one READ COMMITTED transaction; every mutable row
// is written with a version-conditional statement.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// InTx runs fn inside one database transaction.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "unit_of_work", time.Since(start).Seconds(), err)
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{q: tx}); err != nil {
		return asConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return asConflict(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *LedgerStore) GetToken(ctx context.Context, tokenID string) (*domain.Token, error) {
	return getToken(ctx, s.pool, tokenID)
}

// ListTokens retrieves all tokens ordered by created_at, id.
func (s *LedgerStore) ListTokens(ctx context.Context) ([]*domain.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return tokens, nil
}

func (s *LedgerStore) GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error) {
	return getHolding(ctx, s.pool, userID, tokenID)
}

// ListTradesByToken retrieves all trades for a token, ordered by seq ASC.
func (s *LedgerStore) ListTradesByToken(ctx context.Context, tokenID string) ([]*domain.Trade, error) {
	query := `
		SELECT id, seq, token_id, user_id, direction,
			value::text, token_amount::text, price::text, executed_at
		FROM trades
		WHERE token_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list trades by token: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction string
		err := rows.Scan(
			&t.ID, &t.Seq, &t.TokenID, &t.UserID, &direction,
			&t.Value, &t.TokenAmount, &t.Price, &t.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Direction = domain.Direction(direction)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

func (s *LedgerStore) GetStakingAccount(ctx context.Context, userID string) (*domain.StakingAccount, error) {
	return getStakingAccount(ctx, s.pool, userID)
}

func (s *LedgerStore) GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error) {
	return getPoolConfig(ctx, s.pool)
}

// ListTransactionsByUser retrieves all ledger transactions for a user, ordered by seq ASC.
func (s *LedgerStore) ListTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	query := `
		SELECT id, seq, user_id, wallet_address, type, amount::text, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by user: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.Seq, &t.UserID, &t.WalletAddress, &typ, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		t.Type = domain.TransactionType(typ)
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// ledgerTx implements storage.LedgerTx on top of an open pgx.Tx.
type ledgerTx struct {
	q querier
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

func (tx *ledgerTx) GetToken(ctx context.Context, tokenID string) (*domain.Token, error) {
	return getToken(ctx, tx.q, tokenID)
}

// InsertToken adds a new token with version 1. Returns ErrDuplicateKey if the ID exists.
func (tx *ledgerTx) InsertToken(ctx context.Context, t *domain.Token) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	query := `
		INSERT INTO tokens (
			id, symbol, total_supply, current_price, market_cap, volume_24h,
			raised, bonding_curve_progress, holders, hardcap, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	`

	_, err := tx.q.Exec(ctx, query,
		t.ID, t.Symbol, t.TotalSupply.String(), t.CurrentPrice.String(), t.MarketCap.String(),
		t.Volume24h.String(), t.Raised.String(), t.BondingCurveProgress.String(),
		t.Holders, t.Hardcap.String(), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token: %w", err)
	}
	t.Version = 1
	return nil
}

// UpdateToken writes the mutable token aggregates conditionally on version.
func (tx *ledgerTx) UpdateToken(ctx context.Context, t *domain.Token, expectedVersion int64) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE tokens SET
			current_price = $3, market_cap = $4, volume_24h = $5, raised = $6,
			bonding_curve_progress = $7, holders = $8, updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := tx.q.Exec(ctx, query,
		t.ID, expectedVersion,
		t.CurrentPrice.String(), t.MarketCap.String(), t.Volume24h.String(), t.Raised.String(),
		t.BondingCurveProgress.String(), t.Holders, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.missOrConflict(ctx, "SELECT 1 FROM tokens WHERE id = $1", t.ID)
	}
	t.Version = expectedVersion + 1
	return nil
}

func (tx *ledgerTx) GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error) {
	return getHolding(ctx, tx.q, userID, tokenID)
}

// UpsertHolding inserts when expectedVersion is 0, otherwise updates conditionally.
func (tx *ledgerTx) UpsertHolding(ctx context.Context, h *domain.Holding, expectedVersion int64) error {
	if h == nil || h.UserID == "" || h.TokenID == "" {
		return storage.ErrInvalidInput
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = tx.q.Exec(ctx, `
			INSERT INTO holdings (user_id, token_id, balance, total_invested, average_price, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6)
			ON CONFLICT (user_id, token_id) DO NOTHING
		`, h.UserID, h.TokenID, h.Balance.String(), h.TotalInvested.String(), h.AveragePrice.String(), h.UpdatedAt)
	} else {
		tag, err = tx.q.Exec(ctx, `
			UPDATE holdings SET
				balance = $4, total_invested = $5, average_price = $6, updated_at = $7,
				version = version + 1
			WHERE user_id = $1 AND token_id = $2 AND version = $3
		`, h.UserID, h.TokenID, expectedVersion,
			h.Balance.String(), h.TotalInvested.String(), h.AveragePrice.String(), h.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	h.Version = expectedVersion + 1
	return nil
}

// InsertTrade appends a trade; seq comes from the BIGSERIAL column.
func (tx *ledgerTx) InsertTrade(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (id, token_id, user_id, direction, value, token_amount, price, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`

	err := tx.q.QueryRow(ctx, query,
		t.ID, t.TokenID, t.UserID, string(t.Direction),
		t.Value.String(), t.TokenAmount.String(), t.Price.String(), t.ExecutedAt,
	).Scan(&t.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (tx *ledgerTx) GetStakingAccount(ctx context.Context, userID string) (*domain.StakingAccount, error) {
	return getStakingAccount(ctx, tx.q, userID)
}

// UpsertStakingAccount inserts when expectedVersion is 0, otherwise updates conditionally.
func (tx *ledgerTx) UpsertStakingAccount(ctx context.Context, a *domain.StakingAccount, expectedVersion int64) error {
	if a == nil || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = tx.q.Exec(ctx, `
			INSERT INTO staking_accounts (
				user_id, wallet_address, staked_amount, claimable_rewards, donation_balance, version, updated_at
			) VALUES ($1, $2, $3, $4, $5, 1, $6)
			ON CONFLICT (user_id) DO NOTHING
		`, a.UserID, a.WalletAddress, a.StakedAmount.String(), a.ClaimableRewards.String(),
			a.DonationBalance.String(), a.UpdatedAt)
	} else {
		tag, err = tx.q.Exec(ctx, `
			UPDATE staking_accounts SET
				wallet_address = $3, staked_amount = $4, claimable_rewards = $5,
				donation_balance = $6, updated_at = $7, version = version + 1
			WHERE user_id = $1 AND version = $2
		`, a.UserID, expectedVersion, a.WalletAddress, a.StakedAmount.String(),
			a.ClaimableRewards.String(), a.DonationBalance.String(), a.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("upsert staking account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	a.Version = expectedVersion + 1
	return nil
}

// ListActiveStakers retrieves accounts with staked_amount > 0, ordered by user_id ASC.
func (tx *ledgerTx) ListActiveStakers(ctx context.Context) ([]*domain.StakingAccount, error) {
	query := `
		SELECT user_id, wallet_address, staked_amount::text, claimable_rewards::text,
			donation_balance::text, version, updated_at
		FROM staking_accounts
		WHERE staked_amount > 0
		ORDER BY user_id ASC
	`

	rows, err := tx.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active stakers: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.StakingAccount
	for rows.Next() {
		a, err := scanStakingAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staking account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staking account rows: %w", err)
	}
	return accounts, nil
}

func (tx *ledgerTx) GetPoolConfig(ctx context.Context) (*domain.PoolConfig, error) {
	return getPoolConfig(ctx, tx.q)
}

// UpdatePoolConfig seeds the singleton row when expectedVersion is 0,
// otherwise updates it conditionally.
func (tx *ledgerTx) UpdatePoolConfig(ctx context.Context, p *domain.PoolConfig, expectedVersion int64) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	var last *time.Time
	if !p.LastRewardDistribution.IsZero() {
		last = &p.LastRewardDistribution
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = tx.q.Exec(ctx, `
			INSERT INTO pool_config (id, total_pool_size, apr_rate, last_reward_distribution, version)
			VALUES (1, $1, $2, $3, 1)
			ON CONFLICT (id) DO NOTHING
		`, p.TotalPoolSize.String(), p.APRRate.String(), last)
	} else {
		tag, err = tx.q.Exec(ctx, `
			UPDATE pool_config SET
				total_pool_size = $2, apr_rate = $3, last_reward_distribution = $4,
				version = version + 1
			WHERE id = 1 AND version = $1
		`, expectedVersion, p.TotalPoolSize.String(), p.APRRate.String(), last)
	}
	if err != nil {
		return fmt.Errorf("update pool config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

// InsertTransaction appends a ledger transaction; seq comes from the BIGSERIAL column.
func (tx *ledgerTx) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transactions (id, user_id, wallet_address, type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	err := tx.q.QueryRow(ctx, query,
		t.ID, t.UserID, t.WalletAddress, string(t.Type), t.Amount.String(), t.CreatedAt,
	).Scan(&t.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// missOrConflict distinguishes a missing row from a lost version race
// after a conditional update touched nothing.
func (tx *ledgerTx) missOrConflict(ctx context.Context, existsQuery string, args ...any) error {
	var one int
	err := tx.q.QueryRow(ctx, existsQuery, args...).Scan(&one)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check row exists: %w", err)
	}
	return storage.ErrConflict
}

const tokenColumns = `id, symbol, total_supply::text, current_price::text, market_cap::text,
			volume_24h::text, raised::text, bonding_curve_progress::text, holders,
			hardcap::text, version, created_at, updated_at`

func getToken(ctx context.Context, q querier, tokenID string) (*domain.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE id = $1
	`

	t, err := scanToken(q.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	err := row.Scan(
		&t.ID, &t.Symbol, &t.TotalSupply, &t.CurrentPrice, &t.MarketCap,
		&t.Volume24h, &t.Raised, &t.BondingCurveProgress, &t.Holders,
		&t.Hardcap, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func getHolding(ctx context.Context, q querier, userID, tokenID string) (*domain.Holding, error) {
	query := `
		SELECT user_id, token_id, balance::text, total_invested::text, average_price::text,
			version, updated_at
		FROM holdings
		WHERE user_id = $1 AND token_id = $2
	`

	var h domain.Holding
	err := q.QueryRow(ctx, query, userID, tokenID).Scan(
		&h.UserID, &h.TokenID, &h.Balance, &h.TotalInvested, &h.AveragePrice,
		&h.Version, &h.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holding: %w", err)
	}
	return &h, nil
}

func getStakingAccount(ctx context.Context, q querier, userID string) (*domain.StakingAccount, error) {
	query := `
		SELECT user_id, wallet_address, staked_amount::text, claimable_rewards::text,
			donation_balance::text, version, updated_at
		FROM staking_accounts
		WHERE user_id = $1
	`

	a, err := scanStakingAccount(q.QueryRow(ctx, query, userID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get staking account: %w", err)
	}
	return a, nil
}

func scanStakingAccount(row pgx.Row) (*domain.StakingAccount, error) {
	var a domain.StakingAccount
	err := row.Scan(
		&a.UserID, &a.WalletAddress, &a.StakedAmount, &a.ClaimableRewards,
		&a.DonationBalance, &a.Version, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getPoolConfig(ctx context.Context, q querier) (*domain.PoolConfig, error) {
	query := `
		SELECT total_pool_size::text, apr_rate::text, last_reward_distribution, version
		FROM pool_config
		WHERE id = 1
	`

	var p domain.PoolConfig
	var last *time.Time
	err := q.QueryRow(ctx, query).Scan(&p.TotalPoolSize, &p.APRRate, &last, &p.Version)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool config: %w", err)
	}
	if last != nil {
		p.LastRewardDistribution = last.UTC()
	}
	return &p, nil
}
