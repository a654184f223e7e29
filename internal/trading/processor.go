// Package trading executes buys and sells against the bonding curve.
//
// Each trade is one atomic unit of work: the token aggregates, the user's
// holding and the appended trade record commit together or not at all.
package trading

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/pricing"
	"launchpad-ledger/internal/storage"
)

// Config controls trade processing behavior.
type Config struct {
	Curve pricing.Curve

	// DecrementHoldingOnSell reduces the seller's holding balance by the
	// sold token quantity. When false, sells only move token aggregates and
	// holdings stay a historical cost basis.
	DecrementHoldingOnSell bool

	// ConflictAttempts bounds the local re-read/recompute loop on version conflicts.
	ConflictAttempts uint
}

// DefaultConfig returns the default trade processing configuration.
func DefaultConfig() Config {
	return Config{
		Curve:                  pricing.DefaultCurve(),
		DecrementHoldingOnSell: true,
		ConflictAttempts:       ledger.DefaultConflictAttempts,
	}
}

// Observer receives every committed trade.
// It is called after commit and must not block.
type Observer interface {
	OnTrade(ctx context.Context, result *Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, result *Result)

func (f ObserverFunc) OnTrade(ctx context.Context, result *Result) { f(ctx, result) }

// Request is one trade order.
type Request struct {
	TokenID   string
	UserID    string
	Value     decimal.Decimal
	Direction domain.Direction
}

// Result is the committed outcome of one trade.
type Result struct {
	Token   domain.Token   // post-trade snapshot
	Trade   domain.Trade   // appended record
	Holding domain.Holding // post-trade holding
}

// Options for creating Processor.
type Options struct {
	Store     storage.LedgerStore
	Config    Config
	Observers []Observer

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Processor executes trades.
type Processor struct {
	store     storage.LedgerStore
	cfg       Config
	observers []Observer
	now       func() time.Time
	newID     func() string
}

// New creates a new Processor.
func New(opts Options) *Processor {
	p := &Processor{
		store:     opts.Store,
		cfg:       opts.Config,
		observers: opts.Observers,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if p.cfg.Curve.K.IsZero() {
		p.cfg.Curve = pricing.DefaultCurve()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.newID == nil {
		p.newID = func() string { return uuid.NewString() }
	}
	return p
}

// Buy executes a buy of value on token for user.
func (p *Processor) Buy(ctx context.Context, tokenID, userID string, value decimal.Decimal) (*Result, error) {
	return p.Execute(ctx, Request{TokenID: tokenID, UserID: userID, Value: value, Direction: domain.DirectionBuy})
}

// Sell executes a sell of value on token for user.
func (p *Processor) Sell(ctx context.Context, tokenID, userID string, value decimal.Decimal) (*Result, error) {
	return p.Execute(ctx, Request{TokenID: tokenID, UserID: userID, Value: value, Direction: domain.DirectionSell})
}

// Execute validates and runs one trade, retrying locally on version conflicts.
func (p *Processor) Execute(ctx context.Context, req Request) (*Result, error) {
	const op = "trading.Execute"
	start := time.Now()

	result, err := p.execute(ctx, op, req)

	kind := "ok"
	if err != nil {
		kind = strings.ToLower(string(ledger.KindOf(err)))
	}
	observability.RecordTrade(string(req.Direction), kind, time.Since(start).Seconds(), req.Value.InexactFloat64())

	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("component", "trading").
		Str("token_id", result.Token.ID).
		Str("user_id", req.UserID).
		Str("direction", string(req.Direction)).
		Str("value", req.Value.String()).
		Str("price", result.Token.CurrentPrice.String()).
		Int64("seq", result.Trade.Seq).
		Msg("trade committed")

	for _, o := range p.observers {
		o.OnTrade(ctx, result)
	}
	return result, nil
}

func (p *Processor) execute(ctx context.Context, op string, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, ledger.E(ledger.KindInvalidArgument, op, err)
	}

	var result *Result
	err := ledger.RetryOnConflict(ctx, op, p.cfg.ConflictAttempts, func() error {
		var unitErr error
		result, unitErr = p.runUnit(ctx, op, req)
		return unitErr
	}, observability.RecordTradeConflict)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	return result, nil
}

// runUnit performs one read-compute-write attempt inside a single unit of work.
func (p *Processor) runUnit(ctx context.Context, op string, req Request) (*Result, error) {
	var next *nextState
	err := p.store.InTx(ctx, func(tx storage.LedgerTx) error {
		token, err := tx.GetToken(ctx, req.TokenID)
		if err != nil {
			return ledger.FromStorage(op, err)
		}
		holding, err := tx.GetHolding(ctx, req.UserID, req.TokenID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return ledger.FromStorage(op, err)
		}

		now := p.now()
		next, err = p.apply(token, holding, req, now)
		if err != nil {
			return ledger.E(ledgerKind(err), op, err)
		}

		// Token row first: its conditional update orders concurrent trades
		// on the same token before any append happens.
		if err := tx.UpdateToken(ctx, &next.Token, token.Version); err != nil {
			return err
		}
		if next.writeHolding {
			if err := tx.UpsertHolding(ctx, &next.Holding, next.holdingVersion); err != nil {
				return err
			}
		}
		if err := tx.InsertTrade(ctx, &next.Trade); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	// Built after commit, which assigns the trade Seq.
	return &Result{Token: next.Token, Trade: next.Trade, Holding: next.Holding}, nil
}

type nextState struct {
	Token          domain.Token
	Holding        domain.Holding
	Trade          domain.Trade
	writeHolding   bool
	holdingVersion int64
}

var (
	errInsufficientHolding = errors.New("sell exceeds holding balance")
	errNoHolding           = errors.New("no holding to sell")
)

// apply computes the post-trade state without touching the store.
// holding is nil when the user holds nothing yet.
func (p *Processor) apply(token *domain.Token, holding *domain.Holding, req Request, now time.Time) (*nextState, error) {
	price := token.CurrentPrice
	tokenAmount := pricing.TokenAmount(req.Value, price)

	newPrice, err := p.cfg.Curve.NextPrice(price, req.Value, token.Hardcap, req.Direction)
	if err != nil {
		return nil, err
	}

	next := &nextState{Token: *token}
	t := &next.Token

	switch req.Direction {
	case domain.DirectionBuy:
		t.Raised = token.Raised.Add(req.Value)
		next.writeHolding = true
		if holding == nil {
			next.Holding = domain.Holding{
				UserID:        req.UserID,
				TokenID:       req.TokenID,
				Balance:       tokenAmount,
				TotalInvested: req.Value,
				AveragePrice:  price,
			}
			t.Holders++
		} else {
			next.Holding = *holding
			next.holdingVersion = holding.Version
			h := &next.Holding
			h.Balance = h.Balance.Add(tokenAmount)
			h.TotalInvested = h.TotalInvested.Add(req.Value)
			h.AveragePrice = h.TotalInvested.Div(h.Balance)
		}

	case domain.DirectionSell:
		if holding == nil {
			return nil, errNoHolding
		}
		if tokenAmount.GreaterThan(holding.Balance) {
			return nil, errInsufficientHolding
		}
		t.Raised = decimal.Max(token.Raised.Sub(req.Value), decimal.Zero)
		next.Holding = *holding
		next.holdingVersion = holding.Version
		if p.cfg.DecrementHoldingOnSell {
			next.writeHolding = true
			h := &next.Holding
			h.Balance = h.Balance.Sub(tokenAmount)
			// Cost basis leaves at the average price, so average_price is stable.
			h.TotalInvested = decimal.Max(h.TotalInvested.Sub(tokenAmount.Mul(h.AveragePrice)), decimal.Zero)
		}
	}

	progress, err := pricing.Progress(t.Raised, token.Hardcap)
	if err != nil {
		return nil, err
	}

	t.CurrentPrice = newPrice
	t.MarketCap = pricing.MarketCap(newPrice, token.TotalSupply)
	t.Volume24h = token.Volume24h.Add(req.Value)
	t.BondingCurveProgress = progress
	t.UpdatedAt = now
	next.Holding.UpdatedAt = now

	next.Trade = domain.Trade{
		ID:          p.newID(),
		TokenID:     req.TokenID,
		UserID:      req.UserID,
		Direction:   req.Direction,
		Value:       req.Value,
		TokenAmount: tokenAmount,
		Price:       price,
		ExecutedAt:  now,
	}
	return next, nil
}

func ledgerKind(err error) ledger.Kind {
	switch {
	case errors.Is(err, pricing.ErrInvalidHardcap):
		return ledger.KindConfiguration
	case errors.Is(err, errInsufficientHolding), errors.Is(err, errNoHolding):
		return ledger.KindInsufficientBalance
	default:
		return ledger.KindInvalidArgument
	}
}

func validate(req Request) error {
	if req.TokenID == "" {
		return errors.New("token id is required")
	}
	if req.UserID == "" {
		return errors.New("user id is required")
	}
	if !req.Value.IsPositive() {
		return errors.New("trade value must be positive")
	}
	if req.Direction != domain.DirectionBuy && req.Direction != domain.DirectionSell {
		return errors.New("trade direction must be buy or sell")
	}
	return nil
}
