package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StakingAccount is a user's staking position against the shared pool.
type StakingAccount struct {
	UserID           string
	WalletAddress    string          // external wallet used for balance lookups
	StakedAmount     decimal.Decimal // >= 0
	ClaimableRewards decimal.Decimal // credited by distribution ticks, zeroed by claim
	DonationBalance  decimal.Decimal // secondary reward sub-ledger
	Version          int64           // 0 means not yet persisted
	UpdatedAt        time.Time
}

// PoolConfig is the singleton reward pool configuration.
type PoolConfig struct {
	TotalPoolSize          decimal.Decimal // >= 0, debited by distribution ticks
	APRRate                decimal.Decimal // percent, e.g. 150 = 150%
	LastRewardDistribution time.Time       // zero if never distributed
	Version                int64
}
