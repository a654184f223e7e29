package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies ledger audit records.
type TransactionType string

// Transaction types
const (
	TransactionStake   TransactionType = "stake"
	TransactionUnstake TransactionType = "unstake"
	TransactionReward  TransactionType = "reward"
	TransactionClaim   TransactionType = "claim"
)

// Transaction is an immutable audit record of one ledger-affecting event.
// Corresponds to transactions table; one row per staker per distribution tick.
type Transaction struct {
	ID            string
	UserID        string
	WalletAddress string
	Type          TransactionType
	Amount        decimal.Decimal
	Seq           int64 // commit order, assigned by the store
	CreatedAt     time.Time
}
