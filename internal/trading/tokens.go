package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/pricing"
	"launchpad-ledger/internal/storage"
)

// NewToken describes a token to register.
type NewToken struct {
	ID           string
	Symbol       string
	TotalSupply  decimal.Decimal
	InitialPrice decimal.Decimal
	Hardcap      decimal.Decimal
}

// CreateToken registers a token at its initial price with zeroed aggregates.
func (p *Processor) CreateToken(ctx context.Context, nt NewToken) (*domain.Token, error) {
	const op = "trading.CreateToken"

	switch {
	case nt.ID == "":
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op, "token id is required")
	case !nt.TotalSupply.IsPositive():
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op, "total supply must be positive")
	case !nt.Hardcap.IsPositive():
		return nil, ledger.E(ledger.KindConfiguration, op, pricing.ErrInvalidHardcap)
	case nt.InitialPrice.LessThan(p.cfg.Curve.Floor):
		return nil, ledger.Errorf(ledger.KindInvalidArgument, op,
			"initial price %s below floor %s", nt.InitialPrice, p.cfg.Curve.Floor)
	}

	now := p.now()
	token := &domain.Token{
		ID:           nt.ID,
		Symbol:       nt.Symbol,
		TotalSupply:  nt.TotalSupply,
		CurrentPrice: nt.InitialPrice,
		MarketCap:    pricing.MarketCap(nt.InitialPrice, nt.TotalSupply),
		Hardcap:      nt.Hardcap,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := p.store.InTx(ctx, func(tx storage.LedgerTx) error {
		return tx.InsertToken(ctx, token)
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ledger.E(ledger.KindInvalidArgument, op, fmt.Errorf("token %s already exists", nt.ID))
		}
		return nil, ledger.FromStorage(op, err)
	}

	observability.RecordTokenRegistered()
	log.Ctx(ctx).Info().
		Str("component", "trading").
		Str("token_id", token.ID).
		Str("price", token.CurrentPrice.String()).
		Str("hardcap", token.Hardcap.String()).
		Msg("token registered")

	return token, nil
}

// GetToken returns the committed token state.
func (p *Processor) GetToken(ctx context.Context, tokenID string) (*domain.Token, error) {
	t, err := p.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, ledger.FromStorage("trading.GetToken", err)
	}
	return t, nil
}

// ListTokens returns every token in creation order.
func (p *Processor) ListTokens(ctx context.Context) ([]*domain.Token, error) {
	tokens, err := p.store.ListTokens(ctx)
	if err != nil {
		return nil, ledger.FromStorage("trading.ListTokens", err)
	}
	return tokens, nil
}

// ListTrades returns a token's trades in commit order.
func (p *Processor) ListTrades(ctx context.Context, tokenID string) ([]*domain.Trade, error) {
	const op = "trading.ListTrades"
	if _, err := p.store.GetToken(ctx, tokenID); err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	trades, err := p.store.ListTradesByToken(ctx, tokenID)
	if err != nil {
		return nil, ledger.FromStorage(op, err)
	}
	return trades, nil
}

// GetHolding returns a user's holding in a token.
func (p *Processor) GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error) {
	h, err := p.store.GetHolding(ctx, userID, tokenID)
	if err != nil {
		return nil, ledger.FromStorage("trading.GetHolding", err)
	}
	return h, nil
}
