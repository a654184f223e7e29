package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one user's position in one token.
// Corresponds to holdings table, unique on (user_id, token_id).
type Holding struct {
	UserID        string
	TokenID       string
	Balance       decimal.Decimal // token units, >= 0
	TotalInvested decimal.Decimal // cumulative cost basis
	AveragePrice  decimal.Decimal // total_invested / balance
	Version       int64           // 0 means not yet persisted
	UpdatedAt     time.Time
}

// Value returns the holding marked at the given price.
func (h *Holding) Value(price decimal.Decimal) decimal.Decimal {
	return h.Balance.Mul(price)
}
