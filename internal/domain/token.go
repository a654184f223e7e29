package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is a launched token and its bonding-curve aggregates.
// Corresponds to tokens table in PostgreSQL.
type Token struct {
	ID                   string          // token identifier (mint or launch id)
	Symbol               string          // ticker symbol
	TotalSupply          decimal.Decimal // fixed at creation
	CurrentPrice         decimal.Decimal // never below the curve floor
	MarketCap            decimal.Decimal // current_price * total_supply
	Volume24h            decimal.Decimal // monotonically non-decreasing
	Raised               decimal.Decimal // cumulative net contributed value, >= 0
	BondingCurveProgress decimal.Decimal // percent of hardcap, clamped to [0,100]
	Holders              int64           // best-effort counter
	Hardcap              decimal.Decimal // fixed at creation, > 0
	Version              int64           // optimistic-lock counter
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Snapshot returns a copy safe to hand to callers.
func (t *Token) Snapshot() Token {
	return *t
}
