package domain

import "github.com/shopspring/decimal"

// PriceTick is one committed trade projected for charting.
// Corresponds to price_ticks table in ClickHouse.
type PriceTick struct {
	TokenID     string
	Seq         int64           // trade commit order
	TimestampMs int64           // trade execution time (ms)
	Direction   Direction       // buy | sell
	Price       decimal.Decimal // post-trade price
	MarketCap   decimal.Decimal
	Volume      decimal.Decimal // trade value
}

// NewPriceTick projects a trade and the resulting token state.
func NewPriceTick(t *Trade, after *Token) *PriceTick {
	return &PriceTick{
		TokenID:     t.TokenID,
		Seq:         t.Seq,
		TimestampMs: t.ExecutedAt.UnixMilli(),
		Direction:   t.Direction,
		Price:       after.CurrentPrice,
		MarketCap:   after.MarketCap,
		Volume:      t.Value,
	}
}
