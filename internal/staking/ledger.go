// Package staking moves value between a user's external wallet balance and
// their stake in the shared reward pool.
package staking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/storage"
)

// BalanceOracle looks up a wallet's balance outside the ledger.
// Implementations may fail with transient network errors.
type BalanceOracle interface {
	GetExternalBalance(ctx context.Context, walletAddress, assetID string) (decimal.Decimal, error)
}

// Options for creating Ledger.
type Options struct {
	Store  storage.LedgerStore
	Oracle BalanceOracle

	// AssetID is the asset staked, passed through to the oracle.
	AssetID string

	// ValidateWallet rejects malformed wallet addresses before any oracle call.
	ValidateWallet func(address string) error

	ConflictAttempts uint

	Now   func() time.Time
	NewID func() string
}

// Ledger implements stake, unstake and claim.
type Ledger struct {
	store            storage.LedgerStore
	oracle           BalanceOracle
	assetID          string
	validateWallet   func(string) error
	conflictAttempts uint
	now              func() time.Time
	newID            func() string
}

// Result is the committed outcome of one staking operation.
type Result struct {
	Account     domain.StakingAccount
	Transaction domain.Transaction
}

// ClaimResult is the committed outcome of a claim. PayoutKey identifies the
// external transfer the caller must perform exactly once.
type ClaimResult struct {
	Result
	Amount    decimal.Decimal
	PayoutKey string
}

// New creates a new staking Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		store:            opts.Store,
		oracle:           opts.Oracle,
		assetID:          opts.AssetID,
		validateWallet:   opts.ValidateWallet,
		conflictAttempts: opts.ConflictAttempts,
		now:              opts.Now,
		newID:            opts.NewID,
	}
	if l.validateWallet == nil {
		l.validateWallet = func(string) error { return nil }
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.newID == nil {
		l.newID = func() string { return uuid.NewString() }
	}
	return l
}

// Stake moves amount from the user's available external balance into stake.
// available = external_balance - staked_amount.
func (l *Ledger) Stake(ctx context.Context, userID, wallet string, amount decimal.Decimal) (*Result, error) {
	const op = "staking.Stake"

	res, err := l.stake(ctx, op, userID, wallet, amount)
	l.record(ctx, "stake", userID, amount, res, err)
	return res, err
}

func (l *Ledger) stake(ctx context.Context, op, userID, wallet string, amount decimal.Decimal) (*Result, error) {
	if err := validateUserAmount(userID, amount); err != nil {
		return nil, ledger.E(ledger.KindInvalidArgument, op, err)
	}
	if err := l.validateWallet(wallet); err != nil {
		return nil, ledger.E(ledger.KindInvalidArgument, op, fmt.Errorf("wallet address: %w", err))
	}

	// Network call stays outside the unit of work.
	external, err := l.oracle.GetExternalBalance(ctx, wallet, l.assetID)
	if err != nil {
		observability.RecordOracleFailure()
		return nil, ledger.E(ledger.KindOracleUnavailable, op, err)
	}

	// Rows are read back after commit, which assigns the transaction Seq.
	var acctRow *domain.StakingAccount
	var txRow *domain.Transaction
	err = ledger.RetryOnConflict(ctx, op, l.conflictAttempts, func() error {
		acctRow, txRow = nil, nil
		return l.store.InTx(ctx, func(tx storage.LedgerTx) error {
			acct, version, err := getOrNewAccount(ctx, tx, userID)
			if err != nil {
				return ledger.FromStorage(op, err)
			}
			if version > 0 && acct.WalletAddress != "" && acct.WalletAddress != wallet {
				return ledger.Errorf(ledger.KindInvalidArgument, op, "wallet does not match staking account")
			}

			available := external.Sub(acct.StakedAmount)
			if amount.GreaterThan(available) {
				return ledger.Errorf(ledger.KindInsufficientBalance, op,
					"stake %s exceeds available %s", amount, available)
			}

			now := l.now()
			acct.WalletAddress = wallet
			acct.StakedAmount = acct.StakedAmount.Add(amount)
			acct.UpdatedAt = now

			tr := l.transaction(acct, domain.TransactionStake, amount, now)
			if err := tx.UpsertStakingAccount(ctx, acct, version); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
			acctRow, txRow = acct, tr
			return nil
		})
	}, nil)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	return &Result{Account: *acctRow, Transaction: *txRow}, nil
}

// Unstake moves amount from stake back to the user's available balance.
func (l *Ledger) Unstake(ctx context.Context, userID string, amount decimal.Decimal) (*Result, error) {
	const op = "staking.Unstake"

	res, err := l.unstake(ctx, op, userID, amount)
	l.record(ctx, "unstake", userID, amount, res, err)
	return res, err
}

func (l *Ledger) unstake(ctx context.Context, op, userID string, amount decimal.Decimal) (*Result, error) {
	if err := validateUserAmount(userID, amount); err != nil {
		return nil, ledger.E(ledger.KindInvalidArgument, op, err)
	}

	var acctRow *domain.StakingAccount
	var txRow *domain.Transaction
	err := ledger.RetryOnConflict(ctx, op, l.conflictAttempts, func() error {
		acctRow, txRow = nil, nil
		return l.store.InTx(ctx, func(tx storage.LedgerTx) error {
			acct, err := tx.GetStakingAccount(ctx, userID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return ledger.Errorf(ledger.KindInsufficientStake, op, "no staking account for %s", userID)
				}
				return ledger.FromStorage(op, err)
			}
			if amount.GreaterThan(acct.StakedAmount) {
				return ledger.Errorf(ledger.KindInsufficientStake, op,
					"unstake %s exceeds staked %s", amount, acct.StakedAmount)
			}

			version := acct.Version
			now := l.now()
			acct.StakedAmount = acct.StakedAmount.Sub(amount)
			acct.UpdatedAt = now

			tr := l.transaction(acct, domain.TransactionUnstake, amount, now)
			if err := tx.UpsertStakingAccount(ctx, acct, version); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
			acctRow, txRow = acct, tr
			return nil
		})
	}, nil)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	return &Result{Account: *acctRow, Transaction: *txRow}, nil
}

// Claim zeroes the user's claimable rewards and records the claim. The
// balance is debited by a version-conditional update in the same unit as
// the claim record, so success is only reported once the debit is durable
// and a retried claim finds nothing left to pay.
func (l *Ledger) Claim(ctx context.Context, userID string) (*ClaimResult, error) {
	const op = "staking.Claim"

	res, err := l.claim(ctx, op, userID)
	var amount decimal.Decimal
	var base *Result
	if res != nil {
		amount = res.Amount
		base = &res.Result
	}
	l.record(ctx, "claim", userID, amount, base, err)
	return res, err
}

func (l *Ledger) claim(ctx context.Context, op, userID string) (*ClaimResult, error) {
	if userID == "" {
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op, "user id is required")
	}

	var acctRow *domain.StakingAccount
	var txRow *domain.Transaction
	err := ledger.RetryOnConflict(ctx, op, l.conflictAttempts, func() error {
		acctRow, txRow = nil, nil
		return l.store.InTx(ctx, func(tx storage.LedgerTx) error {
			acct, err := tx.GetStakingAccount(ctx, userID)
			if err != nil {
				return ledger.FromStorage(op, err)
			}
			if !acct.ClaimableRewards.IsPositive() {
				return ledger.Errorf(ledger.KindInsufficientBalance, op, "no claimable rewards")
			}

			version := acct.Version
			amount := acct.ClaimableRewards
			now := l.now()
			acct.ClaimableRewards = decimal.Zero
			acct.UpdatedAt = now

			tr := l.transaction(acct, domain.TransactionClaim, amount, now)
			if err := tx.UpsertStakingAccount(ctx, acct, version); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
			acctRow, txRow = acct, tr
			return nil
		})
	}, nil)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	return &ClaimResult{
		Result:    Result{Account: *acctRow, Transaction: *txRow},
		Amount:    txRow.Amount,
		PayoutKey: txRow.ID,
	}, nil
}

// GetAccount returns the committed staking account.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*domain.StakingAccount, error) {
	a, err := l.store.GetStakingAccount(ctx, userID)
	if err != nil {
		return nil, ledger.FromStorage("staking.GetAccount", err)
	}
	return a, nil
}

// ListTransactions returns the user's ledger transactions in commit order.
func (l *Ledger) ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	txns, err := l.store.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, ledger.FromStorage("staking.ListTransactions", err)
	}
	return txns, nil
}

func (l *Ledger) transaction(acct *domain.StakingAccount, typ domain.TransactionType, amount decimal.Decimal, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:            l.newID(),
		UserID:        acct.UserID,
		WalletAddress: acct.WalletAddress,
		Type:          typ,
		Amount:        amount,
		CreatedAt:     now,
	}
}

func (l *Ledger) record(ctx context.Context, op, userID string, amount decimal.Decimal, res *Result, err error) {
	kind := "ok"
	if err != nil {
		kind = strings.ToLower(string(ledger.KindOf(err)))
	}
	observability.RecordStakingOp(op, kind)

	if err != nil {
		log.Ctx(ctx).Warn().
			Str("component", "staking").
			Str("op", op).
			Str("user_id", userID).
			Str("kind", string(ledger.KindOf(err))).
			Err(err).
			Msg("staking operation rejected")
		return
	}
	log.Ctx(ctx).Info().
		Str("component", "staking").
		Str("op", op).
		Str("user_id", userID).
		Str("amount", amount.String()).
		Str("staked", res.Account.StakedAmount.String()).
		Int64("seq", res.Transaction.Seq).
		Msg("staking operation committed")
}

// getOrNewAccount returns the account and its version, or a fresh account
// with version 0 when the user has never staked.
func getOrNewAccount(ctx context.Context, tx storage.LedgerTx, userID string) (*domain.StakingAccount, int64, error) {
	acct, err := tx.GetStakingAccount(ctx, userID)
	if err == nil {
		return acct, acct.Version, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, 0, err
	}
	return &domain.StakingAccount{UserID: userID}, 0, nil
}

func validateUserAmount(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}
