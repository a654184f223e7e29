package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/analytics"
	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/trading"
)

// TokenResponse is a token with its bonding-curve aggregates.
type TokenResponse struct {
	ID                   string          `json:"id"`
	Symbol               string          `json:"symbol"`
	TotalSupply          decimal.Decimal `json:"total_supply"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	MarketCap            decimal.Decimal `json:"market_cap"`
	Volume24h            decimal.Decimal `json:"volume_24h"`
	Raised               decimal.Decimal `json:"raised"`
	BondingCurveProgress decimal.Decimal `json:"bonding_curve_progress"`
	Holders              int64           `json:"holders"`
	Hardcap              decimal.Decimal `json:"hardcap"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func newTokenResponse(t *domain.Token) TokenResponse {
	return TokenResponse{
		ID:                   t.ID,
		Symbol:               t.Symbol,
		TotalSupply:          t.TotalSupply,
		CurrentPrice:         t.CurrentPrice,
		MarketCap:            t.MarketCap,
		Volume24h:            t.Volume24h,
		Raised:               t.Raised,
		BondingCurveProgress: t.BondingCurveProgress,
		Holders:              t.Holders,
		Hardcap:              t.Hardcap,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// TradeResponse is one executed trade.
type TradeResponse struct {
	ID          string           `json:"id"`
	TokenID     string           `json:"token_id"`
	UserID      string           `json:"user_id"`
	Direction   domain.Direction `json:"direction"`
	Value       decimal.Decimal  `json:"value"`
	TokenAmount decimal.Decimal  `json:"token_amount"`
	Price       decimal.Decimal  `json:"price"`
	Seq         int64            `json:"seq"`
	ExecutedAt  time.Time        `json:"executed_at"`
}

func newTradeResponse(t *domain.Trade) TradeResponse {
	return TradeResponse{
		ID:          t.ID,
		TokenID:     t.TokenID,
		UserID:      t.UserID,
		Direction:   t.Direction,
		Value:       t.Value,
		TokenAmount: t.TokenAmount,
		Price:       t.Price,
		Seq:         t.Seq,
		ExecutedAt:  t.ExecutedAt,
	}
}

// HoldingResponse is one user's position in one token.
type HoldingResponse struct {
	UserID        string          `json:"user_id"`
	TokenID       string          `json:"token_id"`
	Balance       decimal.Decimal `json:"balance"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newHoldingResponse(h *domain.Holding) HoldingResponse {
	return HoldingResponse{
		UserID:        h.UserID,
		TokenID:       h.TokenID,
		Balance:       h.Balance,
		TotalInvested: h.TotalInvested,
		AveragePrice:  h.AveragePrice,
		UpdatedAt:     h.UpdatedAt,
	}
}

// TradeResultResponse is the committed outcome of a buy or sell.
type TradeResultResponse struct {
	Token   TokenResponse   `json:"token"`
	Trade   TradeResponse   `json:"trade"`
	Holding HoldingResponse `json:"holding"`
}

// PricePoint is one mirrored price tick.
type PricePoint struct {
	Seq       int64            `json:"seq"`
	Timestamp int64            `json:"timestamp"`
	Direction domain.Direction `json:"direction"`
	Price     decimal.Decimal  `json:"price"`
	MarketCap decimal.Decimal  `json:"market_cap"`
	Volume    decimal.Decimal  `json:"volume"`
}

type createTokenRequest struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	TotalSupply  decimal.Decimal `json:"total_supply"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	Hardcap      decimal.Decimal `json:"hardcap"`
}

type tradeRequest struct {
	UserID string          `json:"user_id"`
	Value  decimal.Decimal `json:"value"`
}

// CreateToken registers a token.
func (s *Server) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decode(r, "api.CreateToken", &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.trading.CreateToken(r.Context(), trading.NewToken{
		ID:           req.ID,
		Symbol:       req.Symbol,
		TotalSupply:  req.TotalSupply,
		InitialPrice: req.InitialPrice,
		Hardcap:      req.Hardcap,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenResponse(token))
}

// ListTokens returns every token in creation order.
func (s *Server) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.trading.ListTokens(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetToken returns a token's committed state.
func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.trading.GetToken(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token))
}

// ListTrades returns a token's trades in commit order.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.trading.ListTrades(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHistory returns mirrored price ticks. start and end are unix ms and
// default to the last 24 hours.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.GetHistory"
	tokenID := chi.URLParam(r, "tokenID")

	end := s.now().UnixMilli()
	start := end - (24 * time.Hour).Milliseconds()
	q := r.URL.Query()
	for name, dst := range map[string]*int64{"start": &start, "end": &end} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, ledger.Errorf(ledger.KindInvalidArgument, op, "invalid %s %q", name, raw))
			return
		}
		*dst = v
	}

	if _, err := s.trading.GetToken(r.Context(), tokenID); err != nil {
		writeError(w, r, err)
		return
	}
	ticks, err := analytics.History(r.Context(), s.ticks, tokenID, start, end)
	if err != nil {
		writeError(w, r, ledger.FromStorage(op, err))
		return
	}
	out := make([]PricePoint, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, PricePoint{
			Seq:       t.Seq,
			Timestamp: t.TimestampMs,
			Direction: t.Direction,
			Price:     t.Price,
			MarketCap: t.MarketCap,
			Volume:    t.Volume,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Buy executes a buy against the token's bonding curve.
func (s *Server) Buy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, "api.Buy", s.trading.Buy)
}

// Sell executes a sell against the token's bonding curve.
func (s *Server) Sell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, "api.Sell", s.trading.Sell)
}

type tradeFunc func(ctx context.Context, tokenID, userID string, value decimal.Decimal) (*trading.Result, error)

func (s *Server) trade(w http.ResponseWriter, r *http.Request, op string, exec tradeFunc) {
	var req tradeRequest
	if err := decode(r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := exec(r.Context(), chi.URLParam(r, "tokenID"), req.UserID, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResultResponse{
		Token:   newTokenResponse(&res.Token),
		Trade:   newTradeResponse(&res.Trade),
		Holding: newHoldingResponse(&res.Holding),
	})
}

// GetHolding returns a user's holding in a token.
func (s *Server) GetHolding(w http.ResponseWriter, r *http.Request) {
	h, err := s.trading.GetHolding(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHoldingResponse(h))
}
