// Package pricing implements the linear bonding curve that moves a token's
// price on every trade.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
)

// Default curve parameters.
var (
	DefaultK     = decimal.RequireFromString("0.0001")
	DefaultFloor = decimal.RequireFromString("0.000001")
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidHardcap is returned when a token's hardcap is zero or negative.
var ErrInvalidHardcap = errors.New("hardcap must be positive")

// Curve holds the slope K and the price floor. The zero value is not usable;
// use NewCurve or DefaultCurve.
type Curve struct {
	K     decimal.Decimal
	Floor decimal.Decimal
}

// DefaultCurve returns the curve with K = 0.0001 and floor = 0.000001.
func DefaultCurve() Curve {
	return Curve{K: DefaultK, Floor: DefaultFloor}
}

// NewCurve validates and builds a curve.
func NewCurve(k, floor decimal.Decimal) (Curve, error) {
	if !k.IsPositive() {
		return Curve{}, fmt.Errorf("curve slope must be positive, got %s", k)
	}
	if !floor.IsPositive() {
		return Curve{}, fmt.Errorf("curve floor must be positive, got %s", floor)
	}
	return Curve{K: k, Floor: floor}, nil
}

// NextPrice returns the price after a trade of value v at current price p.
//
//	buy:  p + (v/hardcap)*K
//	sell: max(p - (v/hardcap)*K, floor)
func (c Curve) NextPrice(p, v, hardcap decimal.Decimal, dir domain.Direction) (decimal.Decimal, error) {
	if !hardcap.IsPositive() {
		return decimal.Zero, ErrInvalidHardcap
	}

	delta := v.Div(hardcap).Mul(c.K)
	switch dir {
	case domain.DirectionBuy:
		return p.Add(delta), nil
	case domain.DirectionSell:
		return decimal.Max(p.Sub(delta), c.Floor), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown trade direction %q", dir)
	}
}

// Progress returns raised as a percentage of hardcap, clamped to [0,100].
func Progress(raised, hardcap decimal.Decimal) (decimal.Decimal, error) {
	if !hardcap.IsPositive() {
		return decimal.Zero, ErrInvalidHardcap
	}
	pct := raised.Div(hardcap).Mul(hundred)
	return decimal.Min(decimal.Max(pct, decimal.Zero), hundred), nil
}

// MarketCap returns price * supply.
func MarketCap(price, supply decimal.Decimal) decimal.Decimal {
	return price.Mul(supply)
}

// TokenAmount returns the token quantity value buys at price.
func TokenAmount(value, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return value.Div(price)
}
