package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a trade.
type Direction string

// Trade directions
const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection normalizes a direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionBuy:
		return DirectionBuy, nil
	case DirectionSell:
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unknown trade direction %q", s)
	}
}

// Trade is an immutable, append-only record of one executed buy or sell.
// Corresponds to trades table in PostgreSQL.
type Trade struct {
	ID          string          // uuid
	TokenID     string          // FK to tokens
	UserID      string          // acting user
	Direction   Direction       // buy | sell
	Value       decimal.Decimal // value transacted (SOL-equivalent)
	TokenAmount decimal.Decimal // token quantity implied by value / price
	Price       decimal.Decimal // price at execution time (pre-trade)
	Seq         int64           // commit order, assigned by the store
	ExecutedAt  time.Time
}
