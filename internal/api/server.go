// Package api exposes the trading, staking and reward operations as a JSON
// HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/observability"
	"launchpad-ledger/internal/rewards"
	"launchpad-ledger/internal/staking"
	"launchpad-ledger/internal/storage"
	"launchpad-ledger/internal/trading"
)

// Trader is the trading surface used by the API.
type Trader interface {
	CreateToken(ctx context.Context, nt trading.NewToken) (*domain.Token, error)
	GetToken(ctx context.Context, tokenID string) (*domain.Token, error)
	ListTokens(ctx context.Context) ([]*domain.Token, error)
	ListTrades(ctx context.Context, tokenID string) ([]*domain.Trade, error)
	GetHolding(ctx context.Context, userID, tokenID string) (*domain.Holding, error)
	Buy(ctx context.Context, tokenID, userID string, value decimal.Decimal) (*trading.Result, error)
	Sell(ctx context.Context, tokenID, userID string, value decimal.Decimal) (*trading.Result, error)
}

// Staker is the staking surface used by the API.
type Staker interface {
	Stake(ctx context.Context, userID, wallet string, amount decimal.Decimal) (*staking.Result, error)
	Unstake(ctx context.Context, userID string, amount decimal.Decimal) (*staking.Result, error)
	Claim(ctx context.Context, userID string) (*staking.ClaimResult, error)
	GetAccount(ctx context.Context, userID string) (*domain.StakingAccount, error)
	ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error)
}

// Distributor is the reward surface used by the API.
type Distributor interface {
	RunDistributionTick(ctx context.Context) (*rewards.TickResult, error)
	FundPool(ctx context.Context, amount decimal.Decimal) (*domain.PoolConfig, error)
	SetAPR(ctx context.Context, rate decimal.Decimal) (*domain.PoolConfig, error)
	GetPool(ctx context.Context) (*domain.PoolConfig, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Trading Trader
	Staking Staker
	Rewards Distributor

	// Ticks serves price history. History routes are not mounted when nil.
	Ticks storage.PriceTickStore

	// Feed is mounted at /feed when set.
	Feed http.Handler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Logger zerolog.Logger
	Now    func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	trading Trader
	staking Staker
	rewards Distributor
	ticks   storage.PriceTickStore
	logger  zerolog.Logger
	now     func() time.Time
	started time.Time

	router http.Handler
}

// New constructs the configured HTTP router.
func New(cfg Config) *Server {
	s := &Server{
		trading: cfg.Trading,
		staking: cfg.Staking,
		rewards: cfg.Rewards,
		ticks:   cfg.Ticks,
		logger:  cfg.Logger.With().Str("component", "api").Logger(),
		now:     cfg.Now,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.started = s.now()
	s.router = s.buildRouter(cfg.Feed, cfg.Metrics)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(feed, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if feed != nil {
		// The feed hijacks the connection, so it stays outside requestLogger.
		r.Handle("/feed", feed)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.requestLogger)

		api.Route("/tokens", func(tr chi.Router) {
			tr.Get("/", s.ListTokens)
			tr.Post("/", s.CreateToken)
			tr.Get("/{tokenID}", s.GetToken)
			tr.Get("/{tokenID}/trades", s.ListTrades)
			if s.ticks != nil {
				tr.Get("/{tokenID}/history", s.GetHistory)
			}
			tr.Post("/{tokenID}/buy", s.Buy)
			tr.Post("/{tokenID}/sell", s.Sell)
		})
		api.Get("/users/{userID}/holdings/{tokenID}", s.GetHolding)

		api.Route("/staking", func(sr chi.Router) {
			sr.Post("/stake", s.Stake)
			sr.Post("/unstake", s.Unstake)
			sr.Post("/claim", s.Claim)
			sr.Get("/accounts/{userID}", s.GetAccount)
			sr.Get("/accounts/{userID}/transactions", s.ListTransactions)
		})

		api.Route("/rewards", func(rr chi.Router) {
			rr.Get("/pool", s.GetPool)
			rr.Post("/pool/fund", s.FundPool)
			rr.Put("/pool/apr", s.SetAPR)
			rr.Post("/distribute", s.RunDistribution)
		})
	})

	return r
}

// requestLogger attaches a request-scoped logger to the context, then logs
// and records the outcome under the matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(route, status, elapsed.Seconds())

		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("request served")
	})
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status string    `json:"status"`
	Uptime string    `json:"uptime"`
	Since  time.Time `json:"since"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: s.now().Sub(s.started).Round(time.Second).String(),
		Since:  s.started,
	})
}
