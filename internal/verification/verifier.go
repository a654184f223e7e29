// Package verification replays stored trades through the bonding curve and
// compares the result with the persisted token aggregates and holdings.
//
// A ledger is consistent when every trade's recorded price equals the price
// the curve yields from the previous trade, and the token and holding rows
// equal what the replay accumulates. The first trade's price anchors the
// replay.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/pricing"
	"launchpad-ledger/internal/storage"
)

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string // field name
	Expected any    // stored value
	Actual   any    // replayed value
}

// TradeDivergence lists the mismatching fields of one stored trade.
type TradeDivergence struct {
	TradeID     string
	Seq         int64
	Divergences []FieldDivergence
}

// HoldingDivergence lists the mismatching fields of one user's holding.
type HoldingDivergence struct {
	UserID      string
	Divergences []FieldDivergence
}

// TokenResult contains the result of verifying a single token.
type TokenResult struct {
	TokenID  string
	Trades   int  // trades replayed
	Match    bool // true if nothing diverged
	Token    []FieldDivergence
	Trade    []TradeDivergence
	Holdings []HoldingDivergence
}

// Report contains results for batch verification.
type Report struct {
	TotalTokens     int
	MatchedTokens   int
	DivergentTokens int
	TotalTrades     int
	Results         []TokenResult
}

// Options for creating Verifier.
type Options struct {
	Store storage.LedgerReader
	Curve pricing.Curve

	// DecrementHoldingOnSell must match the trade processor setting the
	// ledger was written with.
	DecrementHoldingOnSell bool

	// Concurrency bounds how many tokens VerifyAll replays at once.
	Concurrency int
}

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 4

// Verifier replays the trade log of tokens.
type Verifier struct {
	store          storage.LedgerReader
	curve          pricing.Curve
	decrementSells bool
	concurrency    int
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Verifier{
		store:          opts.Store,
		curve:          opts.Curve,
		decrementSells: opts.DecrementHoldingOnSell,
		concurrency:    opts.Concurrency,
	}
}

// VerifyAll verifies every token. Results keep token creation order.
// The first error cancels the remaining replays.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	tokens, err := v.store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	p := pool.NewWithResults[indexedResult]().
		WithContext(ctx).
		WithMaxGoroutines(v.concurrency).
		WithCancelOnError().
		WithFirstError()
	for i, token := range tokens {
		p.Go(func(ctx context.Context) (indexedResult, error) {
			res, err := v.verify(ctx, token)
			if err != nil {
				return indexedResult{}, fmt.Errorf("verify token %s: %w", token.ID, err)
			}
			return indexedResult{index: i, result: res}, nil
		})
	}
	indexed, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })

	report := &Report{Results: make([]TokenResult, 0, len(indexed))}
	for _, ir := range indexed {
		res := ir.result
		report.TotalTokens++
		report.TotalTrades += res.Trades
		if res.Match {
			report.MatchedTokens++
		} else {
			report.DivergentTokens++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}

// VerifyToken verifies a single token by ID.
func (v *Verifier) VerifyToken(ctx context.Context, tokenID string) (*TokenResult, error) {
	token, err := v.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", tokenID, err)
	}
	return v.verify(ctx, token)
}

type indexedResult struct {
	index  int
	result *TokenResult
}

// replayed is the state accumulated while walking the trade log.
type replayed struct {
	price    decimal.Decimal
	raised   decimal.Decimal
	volume   decimal.Decimal
	holders  int64
	holdings map[string]*domain.Holding
}

func (v *Verifier) verify(ctx context.Context, token *domain.Token) (*TokenResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trades, err := v.store.ListTradesByToken(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	state := &replayed{
		price:    token.CurrentPrice,
		raised:   decimal.Zero,
		volume:   decimal.Zero,
		holdings: make(map[string]*domain.Holding),
	}
	if len(trades) > 0 {
		state.price = trades[0].Price
	}

	res := &TokenResult{TokenID: token.ID, Trades: len(trades)}
	for _, trade := range trades {
		divs, err := v.step(state, token, trade)
		if err != nil {
			return nil, fmt.Errorf("replay trade %s: %w", trade.ID, err)
		}
		if len(divs) > 0 {
			res.Trade = append(res.Trade, TradeDivergence{TradeID: trade.ID, Seq: trade.Seq, Divergences: divs})
		}
	}

	progress, err := pricing.Progress(state.raised, token.Hardcap)
	if err != nil {
		return nil, err
	}
	res.Token = compareToken(token, state, progress)

	users := make([]string, 0, len(state.holdings))
	for userID := range state.holdings {
		users = append(users, userID)
	}
	sort.Strings(users)
	for _, userID := range users {
		divs, err := v.compareHolding(ctx, token.ID, state.holdings[userID])
		if err != nil {
			return nil, err
		}
		if len(divs) > 0 {
			res.Holdings = append(res.Holdings, HoldingDivergence{UserID: userID, Divergences: divs})
		}
	}

	res.Match = len(res.Token) == 0 && len(res.Trade) == 0 && len(res.Holdings) == 0
	if !res.Match {
		log.Ctx(ctx).Warn().
			Str("component", "verification").
			Str("token_id", token.ID).
			Int("token_fields", len(res.Token)).
			Int("trades", len(res.Trade)).
			Int("holdings", len(res.Holdings)).
			Msg("ledger divergence")
	}
	return res, nil
}

// step applies one trade to state and returns the trade's own divergences.
func (v *Verifier) step(state *replayed, token *domain.Token, trade *domain.Trade) ([]FieldDivergence, error) {
	var divs []FieldDivergence

	price := state.price
	amount := pricing.TokenAmount(trade.Value, price)
	divs = appendDecimal(divs, "Price", trade.Price, price)
	divs = appendDecimal(divs, "TokenAmount", trade.TokenAmount, amount)

	next, err := v.curve.NextPrice(price, trade.Value, token.Hardcap, trade.Direction)
	if err != nil {
		return nil, err
	}

	h := state.holdings[trade.UserID]
	switch trade.Direction {
	case domain.DirectionBuy:
		state.raised = state.raised.Add(trade.Value)
		if h == nil {
			state.holdings[trade.UserID] = &domain.Holding{
				UserID:        trade.UserID,
				TokenID:       trade.TokenID,
				Balance:       amount,
				TotalInvested: trade.Value,
				AveragePrice:  price,
			}
			state.holders++
		} else {
			h.Balance = h.Balance.Add(amount)
			h.TotalInvested = h.TotalInvested.Add(trade.Value)
			h.AveragePrice = h.TotalInvested.Div(h.Balance)
		}

	case domain.DirectionSell:
		if h == nil || amount.GreaterThan(h.Balance) {
			held := decimal.Zero
			if h != nil {
				held = h.Balance
			}
			divs = append(divs, FieldDivergence{Field: "Balance", Expected: amount.String(), Actual: held.String()})
		} else if v.decrementSells {
			h.Balance = h.Balance.Sub(amount)
			h.TotalInvested = decimal.Max(h.TotalInvested.Sub(amount.Mul(h.AveragePrice)), decimal.Zero)
		}
		state.raised = decimal.Max(state.raised.Sub(trade.Value), decimal.Zero)

	default:
		return nil, errors.New("unknown trade direction")
	}

	state.price = next
	state.volume = state.volume.Add(trade.Value)
	return divs, nil
}

func compareToken(token *domain.Token, state *replayed, progress decimal.Decimal) []FieldDivergence {
	var divs []FieldDivergence
	divs = appendDecimal(divs, "CurrentPrice", token.CurrentPrice, state.price)
	divs = appendDecimal(divs, "MarketCap", token.MarketCap, pricing.MarketCap(state.price, token.TotalSupply))
	divs = appendDecimal(divs, "Volume24h", token.Volume24h, state.volume)
	divs = appendDecimal(divs, "Raised", token.Raised, state.raised)
	divs = appendDecimal(divs, "BondingCurveProgress", token.BondingCurveProgress, progress)
	if token.Holders != state.holders {
		divs = append(divs, FieldDivergence{Field: "Holders", Expected: token.Holders, Actual: state.holders})
	}
	return divs
}

func (v *Verifier) compareHolding(ctx context.Context, tokenID string, want *domain.Holding) ([]FieldDivergence, error) {
	got, err := v.store.GetHolding(ctx, want.UserID, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return []FieldDivergence{{Field: "Holding", Expected: nil, Actual: want.Balance.String()}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", want.UserID, tokenID, err)
	}

	var divs []FieldDivergence
	divs = appendDecimal(divs, "Balance", got.Balance, want.Balance)
	divs = appendDecimal(divs, "TotalInvested", got.TotalInvested, want.TotalInvested)
	divs = appendDecimal(divs, "AveragePrice", got.AveragePrice, want.AveragePrice)
	return divs, nil
}

func appendDecimal(divs []FieldDivergence, field string, stored, replayed decimal.Decimal) []FieldDivergence {
	if stored.Equal(replayed) {
		return divs
	}
	return append(divs, FieldDivergence{Field: field, Expected: stored.String(), Actual: replayed.String()})
}
