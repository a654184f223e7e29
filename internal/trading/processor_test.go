package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/pricing"
	"launchpad-ledger/internal/storage"
	"launchpad-ledger/internal/storage/memory"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor(t *testing.T, store storage.LedgerStore, mutate func(*Options)) *Processor {
	t.Helper()
	n := 0
	opts := Options{
		Store:  store,
		Config: DefaultConfig(),
		Now:    func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("trade-%03d", n)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func createToken(t *testing.T, p *Processor, id, price, hardcap, supply string) {
	t.Helper()
	_, err := p.CreateToken(context.Background(), NewToken{
		ID:           id,
		Symbol:       "TKN",
		TotalSupply:  d(supply),
		InitialPrice: d(price),
		Hardcap:      d(hardcap),
	})
	require.NoError(t, err)
}

func TestProcessor_Buy_Scenario(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "0.001", "1000000", "1000000000")

	res, err := p.Buy(ctx, "tok-1", "alice", d("1000"))
	require.NoError(t, err)

	assert.True(t, res.Token.CurrentPrice.Equal(d("0.0010001")), "price %s", res.Token.CurrentPrice)
	assert.True(t, res.Token.MarketCap.Equal(d("1000100")), "market cap %s", res.Token.MarketCap)
	assert.True(t, res.Token.Volume24h.Equal(d("1000")))
	assert.True(t, res.Token.Raised.Equal(d("1000")))
	assert.True(t, res.Token.BondingCurveProgress.Equal(d("0.1")), "progress %s", res.Token.BondingCurveProgress)
	assert.Equal(t, int64(1), res.Token.Holders)

	assert.True(t, res.Holding.Balance.Equal(d("1000000")))
	assert.True(t, res.Holding.TotalInvested.Equal(d("1000")))
	assert.True(t, res.Holding.AveragePrice.Equal(d("0.001")))

	assert.Equal(t, domain.DirectionBuy, res.Trade.Direction)
	assert.True(t, res.Trade.Price.Equal(d("0.001")), "trade records the pre-trade price")
	assert.True(t, res.Trade.TokenAmount.Equal(d("1000000")))
	assert.NotZero(t, res.Trade.Seq)

	committed, err := p.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, committed.CurrentPrice.Equal(res.Token.CurrentPrice))

	trades, err := p.ListTrades(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "trade-001", trades[0].ID)
}

func TestProcessor_Buy_ExistingHoldingAveragesCost(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Buy(ctx, "tok-1", "alice", d("10"))
	require.NoError(t, err)
	res, err := p.Buy(ctx, "tok-1", "alice", d("10"))
	require.NoError(t, err)

	// Second buy executes at 1.00001
	wantBalance := d("10").Add(d("10").Div(d("1.00001")))
	assert.True(t, res.Holding.Balance.Equal(wantBalance), "balance %s", res.Holding.Balance)
	assert.True(t, res.Holding.TotalInvested.Equal(d("20")))
	assert.True(t, res.Holding.AveragePrice.Equal(d("20").Div(wantBalance)))
	assert.Equal(t, int64(1), res.Token.Holders, "holders only counts new holdings")
}

func TestProcessor_Sell_MovesPriceDownAndDecrementsHolding(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Buy(ctx, "tok-1", "alice", d("50"))
	require.NoError(t, err)

	res, err := p.Sell(ctx, "tok-1", "alice", d("10"))
	require.NoError(t, err)

	// 1 + 0.5*K, then minus 0.1*K
	assert.True(t, res.Token.CurrentPrice.Equal(d("1.00004")), "price %s", res.Token.CurrentPrice)
	assert.True(t, res.Token.Raised.Equal(d("40")))
	assert.True(t, res.Token.Volume24h.Equal(d("60")), "volume accumulates on sells")
	assert.True(t, res.Token.BondingCurveProgress.Equal(d("40")))

	sold := d("10").Div(d("1.00005"))
	assert.True(t, res.Holding.Balance.Equal(d("50").Sub(sold)), "balance %s", res.Holding.Balance)
	assert.True(t, res.Holding.AveragePrice.Equal(d("1")), "average price is stable across sells")
	assert.Equal(t, int64(1), res.Token.Holders)
}

func TestProcessor_Sell_RaisedNeverNegative(t *testing.T) {
	store := memory.NewLedgerStore()
	cfg := DefaultConfig()
	cfg.DecrementHoldingOnSell = false
	p := newTestProcessor(t, store, func(o *Options) { o.Config = cfg })
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Buy(ctx, "tok-1", "alice", d("5"))
	require.NoError(t, err)

	// Holding is not decremented, so the same balance can be sold twice.
	res, err := p.Sell(ctx, "tok-1", "alice", d("4"))
	require.NoError(t, err)
	res, err = p.Sell(ctx, "tok-1", "alice", d("4"))
	require.NoError(t, err)

	assert.True(t, res.Token.Raised.IsZero(), "raised %s", res.Token.Raised)
	assert.True(t, res.Token.BondingCurveProgress.IsZero())
	assert.True(t, res.Holding.Balance.Equal(d("5")), "holding untouched with decrement disabled")
}

func TestProcessor_Sell_InsufficientBalance(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Buy(ctx, "tok-1", "alice", d("10"))
	require.NoError(t, err)

	beforeToken, _ := store.GetToken(ctx, "tok-1")
	beforeHolding, _ := store.GetHolding(ctx, "alice", "tok-1")

	_, err = p.Sell(ctx, "tok-1", "alice", d("100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	afterToken, _ := store.GetToken(ctx, "tok-1")
	afterHolding, _ := store.GetHolding(ctx, "alice", "tok-1")
	assert.Equal(t, beforeToken, afterToken)
	assert.Equal(t, beforeHolding, afterHolding)

	trades, _ := store.ListTradesByToken(ctx, "tok-1")
	assert.Len(t, trades, 1)
}

func TestProcessor_Sell_WithoutHolding(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Sell(context.Background(), "tok-1", "bob", d("1"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestProcessor_InvalidArguments(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	tests := []struct {
		name string
		req  Request
	}{
		{"zero value", Request{TokenID: "tok-1", UserID: "u", Value: d("0"), Direction: domain.DirectionBuy}},
		{"negative value", Request{TokenID: "tok-1", UserID: "u", Value: d("-1"), Direction: domain.DirectionSell}},
		{"bad direction", Request{TokenID: "tok-1", UserID: "u", Value: d("1"), Direction: "hold"}},
		{"missing user", Request{TokenID: "tok-1", Value: d("1"), Direction: domain.DirectionBuy}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Execute(ctx, tt.req)
			assert.Equal(t, ledger.KindInvalidArgument, ledger.KindOf(err))
		})
	}
}

func TestProcessor_TokenNotFound(t *testing.T) {
	p := newTestProcessor(t, memory.NewLedgerStore(), nil)

	_, err := p.Buy(context.Background(), "missing", "alice", d("1"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = p.ListTrades(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestProcessor_ZeroHardcapIsConfigurationError(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(tx storage.LedgerTx) error {
		return tx.InsertToken(ctx, &domain.Token{
			ID: "bad", TotalSupply: d("1000"), CurrentPrice: d("1"), Hardcap: decimal.Zero,
		})
	}))
	p := newTestProcessor(t, store, nil)

	_, err := p.Buy(ctx, "bad", "alice", d("1"))
	assert.ErrorIs(t, err, ledger.ErrConfiguration)
}

func TestProcessor_CreateToken_Validation(t *testing.T) {
	p := newTestProcessor(t, memory.NewLedgerStore(), nil)
	ctx := context.Background()

	_, err := p.CreateToken(ctx, NewToken{ID: "t", TotalSupply: d("1"), InitialPrice: d("1"), Hardcap: d("0")})
	assert.ErrorIs(t, err, ledger.ErrConfiguration)

	_, err = p.CreateToken(ctx, NewToken{ID: "t", TotalSupply: d("1"), InitialPrice: d("0.0000001"), Hardcap: d("1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = p.CreateToken(ctx, NewToken{ID: "", TotalSupply: d("1"), InitialPrice: d("1"), Hardcap: d("1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	tok, err := p.CreateToken(ctx, NewToken{ID: "t", TotalSupply: d("1000"), InitialPrice: d("2"), Hardcap: d("1")})
	require.NoError(t, err)
	assert.True(t, tok.MarketCap.Equal(d("2000")))

	_, err = p.CreateToken(ctx, NewToken{ID: "t", TotalSupply: d("1000"), InitialPrice: d("2"), Hardcap: d("1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestProcessor_ObserverCalledAfterCommit(t *testing.T) {
	store := memory.NewLedgerStore()
	var seen []*Result
	p := newTestProcessor(t, store, func(o *Options) {
		o.Observers = []Observer{ObserverFunc(func(_ context.Context, r *Result) {
			seen = append(seen, r)
		})}
	})
	ctx := context.Background()
	createToken(t, p, "tok-1", "1", "100", "1000")

	_, err := p.Buy(ctx, "tok-1", "alice", d("1"))
	require.NoError(t, err)
	_, err = p.Sell(ctx, "tok-1", "alice", d("100"))
	require.Error(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, domain.DirectionBuy, seen[0].Trade.Direction)
}

// failingStore fails InsertTrade after the token and holding were staged.
type failingStore struct {
	*memory.LedgerStore
}

type failingTx struct {
	storage.LedgerTx
}

func (f failingStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	return f.LedgerStore.InTx(ctx, func(tx storage.LedgerTx) error {
		return fn(failingTx{tx})
	})
}

func (failingTx) InsertTrade(context.Context, *domain.Trade) error {
	return errors.New("connection reset")
}

func TestProcessor_StoreFailureLeavesNoPartialWrite(t *testing.T) {
	base := memory.NewLedgerStore()
	setup := newTestProcessor(t, base, nil)
	createToken(t, setup, "tok-1", "1", "100", "1000")

	p := newTestProcessor(t, failingStore{base}, nil)
	ctx := context.Background()

	_, err := p.Buy(ctx, "tok-1", "alice", d("10"))
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	tok, _ := base.GetToken(ctx, "tok-1")
	assert.True(t, tok.Volume24h.IsZero())
	assert.Equal(t, int64(0), tok.Holders)
	_, err = base.GetHolding(ctx, "alice", "tok-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessor_ConcurrentBuysAllLand(t *testing.T) {
	store := memory.NewLedgerStore()
	cfg := DefaultConfig()
	cfg.ConflictAttempts = 200
	p := New(Options{Store: store, Config: cfg})
	ctx := context.Background()
	createToken(t, p, "tok-1", "0.001", "1000", "1000000")

	const buyers = 16
	values := make([]decimal.Decimal, buyers)
	sum := decimal.Zero
	for i := range values {
		values[i] = decimal.NewFromInt(int64(i + 1))
		sum = sum.Add(values[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Buy(ctx, "tok-1", fmt.Sprintf("user-%d", i), values[i])
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tok, err := p.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, tok.Volume24h.Equal(sum), "volume %s, want %s", tok.Volume24h, sum)
	assert.True(t, tok.Raised.Equal(sum))
	assert.Equal(t, int64(buyers), tok.Holders)

	// Linear curve: every buy's delta lands regardless of order.
	wantPrice := d("0.001").Add(sum.Div(d("1000")).Mul(pricing.DefaultK))
	assert.True(t, tok.CurrentPrice.Equal(wantPrice), "price %s, want %s", tok.CurrentPrice, wantPrice)

	trades, err := p.ListTrades(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, trades, buyers)
	for i := 1; i < len(trades); i++ {
		assert.Less(t, trades[i-1].Seq, trades[i].Seq)
	}
}

func TestProcessor_RandomSequenceInvariants(t *testing.T) {
	store := memory.NewLedgerStore()
	p := New(Options{Store: store, Config: DefaultConfig()})
	ctx := context.Background()
	createToken(t, p, "tok-1", "0.00001", "50", "1000000")
	floor := pricing.DefaultFloor
	faker := gofakeit.New(7)

	users := []string{"alice", "bob", "carol"}
	for i := 0; i < 300; i++ {
		user := users[faker.IntRange(0, len(users)-1)]
		value := decimal.NewFromFloat(faker.Float64Range(0.01, 25)).Round(6)

		var err error
		if faker.Bool() {
			_, err = p.Buy(ctx, "tok-1", user, value)
		} else {
			_, err = p.Sell(ctx, "tok-1", user, value)
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			}
		}
		if err != nil && ledger.KindOf(err) != ledger.KindInsufficientBalance {
			require.NoError(t, err)
		}

		tok, err := p.GetToken(ctx, "tok-1")
		require.NoError(t, err)
		require.True(t, tok.CurrentPrice.IsPositive())
		require.True(t, tok.CurrentPrice.GreaterThanOrEqual(floor), "price %s below floor", tok.CurrentPrice)
		require.True(t, tok.MarketCap.Equal(tok.CurrentPrice.Mul(tok.TotalSupply)), "market cap drifted")
		require.True(t, tok.BondingCurveProgress.GreaterThanOrEqual(decimal.Zero))
		require.True(t, tok.BondingCurveProgress.LessThanOrEqual(decimal.NewFromInt(100)))
		require.False(t, tok.Raised.IsNegative())
	}

	for _, u := range users {
		h, err := p.GetHolding(ctx, u, "tok-1")
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		require.False(t, h.Balance.IsNegative(), "holding %s negative", u)
	}
}

func TestProcessor_ResultsCarryCommitSeq(t *testing.T) {
	store := memory.NewLedgerStore()
	p := newTestProcessor(t, store, nil)
	ctx := context.Background()
	createToken(t, p, "tok-1", "0.001", "100", "1000000")

	var seqs []int64
	for _, v := range []string{"1", "2", "3"} {
		res, err := p.Buy(ctx, "tok-1", "alice", d(v))
		require.NoError(t, err)
		seqs = append(seqs, res.Trade.Seq)
	}
	res, err := p.Sell(ctx, "tok-1", "alice", d("1"))
	require.NoError(t, err)
	seqs = append(seqs, res.Trade.Seq)

	trades, err := p.ListTrades(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, trades, len(seqs))
	for i, tr := range trades {
		assert.Equal(t, tr.Seq, seqs[i], "trade %d", i)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
}
