package verification

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/pricing"
	"launchpad-ledger/internal/storage"
	"launchpad-ledger/internal/storage/memory"
	"launchpad-ledger/internal/trading"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store     *memory.LedgerStore
	processor *trading.Processor
	verifier  *Verifier
}

func newFixture(t *testing.T, decrementSells bool) *fixture {
	t.Helper()
	store := memory.NewLedgerStore()
	cfg := trading.DefaultConfig()
	cfg.DecrementHoldingOnSell = decrementSells
	return &fixture{
		store: store,
		processor: trading.New(trading.Options{
			Store:  store,
			Config: cfg,
			Now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		}),
		verifier: New(Options{
			Store:                  store,
			Curve:                  pricing.DefaultCurve(),
			DecrementHoldingOnSell: decrementSells,
		}),
	}
}

func (f *fixture) token(t *testing.T, id string) {
	t.Helper()
	_, err := f.processor.CreateToken(context.Background(), trading.NewToken{
		ID:           id,
		Symbol:       "TKN",
		TotalSupply:  d("1000000"),
		InitialPrice: d("0.001"),
		Hardcap:      d("100"),
	})
	require.NoError(t, err)
}

// trade runs a random buy-heavy sequence by a few users.
func (f *fixture) trade(t *testing.T, tokenID string, n int) {
	t.Helper()
	ctx := context.Background()
	faker := gofakeit.New(42)
	users := []string{faker.Username(), faker.Username(), faker.Username()}

	for i := 0; i < n; i++ {
		user := users[i%len(users)]
		if i%4 == 3 {
			_, err := f.processor.Sell(ctx, tokenID, user, d("0.5"))
			require.NoError(t, err)
			continue
		}
		_, err := f.processor.Buy(ctx, tokenID, user, decimal.NewFromInt(int64(faker.IntRange(1, 20))))
		require.NoError(t, err)
	}
}

func fields(divs []FieldDivergence) []string {
	out := make([]string, 0, len(divs))
	for _, div := range divs {
		out = append(out, div.Field)
	}
	return out
}

func TestVerifyAll_Consistent(t *testing.T) {
	for _, decrement := range []bool{true, false} {
		f := newFixture(t, decrement)
		f.token(t, "tok-a")
		f.token(t, "tok-b")
		f.token(t, "tok-idle")
		f.trade(t, "tok-a", 12)
		f.trade(t, "tok-b", 7)

		report, err := f.verifier.VerifyAll(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 3, report.TotalTokens, "decrement=%v", decrement)
		assert.Equal(t, 3, report.MatchedTokens, "decrement=%v", decrement)
		assert.Zero(t, report.DivergentTokens, "decrement=%v", decrement)
		assert.Equal(t, 19, report.TotalTrades, "decrement=%v", decrement)
		ids := make([]string, 0, len(report.Results))
		for _, res := range report.Results {
			assert.True(t, res.Match, "%s: %+v", res.TokenID, res)
			ids = append(ids, res.TokenID)
		}
		// Creation times tie, so ID breaks the order.
		assert.Equal(t, []string{"tok-a", "tok-b", "tok-idle"}, ids)
	}
}

func TestVerifyToken_TamperedAggregates(t *testing.T) {
	f := newFixture(t, true)
	f.token(t, "tok")
	f.trade(t, "tok", 5)
	ctx := context.Background()

	token, err := f.store.GetToken(ctx, "tok")
	require.NoError(t, err)
	tampered := *token
	tampered.Volume24h = tampered.Volume24h.Add(d("1"))
	tampered.Holders = 99
	require.NoError(t, f.store.InTx(ctx, func(tx storage.LedgerTx) error {
		return tx.UpdateToken(ctx, &tampered, token.Version)
	}))

	res, err := f.verifier.VerifyToken(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Empty(t, res.Trade)
	assert.Empty(t, res.Holdings)
	assert.ElementsMatch(t, []string{"Volume24h", "Holders"}, fields(res.Token))

	for _, div := range res.Token {
		if div.Field == "Volume24h" {
			assert.Equal(t, tampered.Volume24h.String(), div.Expected)
			assert.Equal(t, token.Volume24h.String(), div.Actual)
		}
	}
}

func TestVerifyToken_TamperedTrade(t *testing.T) {
	f := newFixture(t, true)
	f.token(t, "tok")
	ctx := context.Background()

	_, err := f.processor.Buy(ctx, "tok", "alice", d("10"))
	require.NoError(t, err)

	// A trade appended outside the processor at a made-up price.
	require.NoError(t, f.store.InTx(ctx, func(tx storage.LedgerTx) error {
		return tx.InsertTrade(ctx, &domain.Trade{
			ID:          "forged",
			TokenID:     "tok",
			UserID:      "alice",
			Direction:   domain.DirectionBuy,
			Value:       d("5"),
			TokenAmount: d("1"),
			Price:       d("5"),
			ExecutedAt:  time.Now(),
		})
	}))

	res, err := f.verifier.VerifyToken(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Equal(t, 2, res.Trades)
	require.Len(t, res.Trade, 1)
	assert.Equal(t, "forged", res.Trade[0].TradeID)
	assert.ElementsMatch(t, []string{"Price", "TokenAmount"}, fields(res.Trade[0].Divergences))

	// The token row never saw the forged trade.
	assert.Contains(t, fields(res.Token), "Volume24h")
	assert.Contains(t, fields(res.Token), "CurrentPrice")
	require.Len(t, res.Holdings, 1)
	assert.Equal(t, "alice", res.Holdings[0].UserID)
}

func TestVerifyToken_TamperedHolding(t *testing.T) {
	f := newFixture(t, true)
	f.token(t, "tok")
	f.trade(t, "tok", 6)
	ctx := context.Background()

	trades, err := f.store.ListTradesByToken(ctx, "tok")
	require.NoError(t, err)
	user := trades[0].UserID

	h, err := f.store.GetHolding(ctx, user, "tok")
	require.NoError(t, err)
	tampered := *h
	tampered.Balance = tampered.Balance.Mul(d("2"))
	require.NoError(t, f.store.InTx(ctx, func(tx storage.LedgerTx) error {
		return tx.UpsertHolding(ctx, &tampered, h.Version)
	}))

	res, err := f.verifier.VerifyToken(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Empty(t, res.Token)
	require.Len(t, res.Holdings, 1)
	assert.Equal(t, user, res.Holdings[0].UserID)
	assert.Equal(t, []string{"Balance"}, fields(res.Holdings[0].Divergences))
}

func TestVerifyToken_NoTrades(t *testing.T) {
	f := newFixture(t, true)
	f.token(t, "tok")

	res, err := f.verifier.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.Zero(t, res.Trades)
}

func TestVerifyToken_NotFound(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.verifier.VerifyToken(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
