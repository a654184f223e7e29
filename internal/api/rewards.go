package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/ledger"
	"launchpad-ledger/internal/rewards"
)

// PoolResponse is the reward pool configuration.
type PoolResponse struct {
	TotalPoolSize          decimal.Decimal `json:"total_pool_size"`
	APRRate                decimal.Decimal `json:"apr_rate"`
	LastRewardDistribution *time.Time      `json:"last_reward_distribution,omitempty"`
}

func newPoolResponse(p *domain.PoolConfig) PoolResponse {
	resp := PoolResponse{
		TotalPoolSize: p.TotalPoolSize,
		APRRate:       p.APRRate,
	}
	if !p.LastRewardDistribution.IsZero() {
		last := p.LastRewardDistribution
		resp.LastRewardDistribution = &last
	}
	return resp
}

// CreditResponse is one staker's share of a tick.
type CreditResponse struct {
	UserID        string          `json:"user_id"`
	Staked        decimal.Decimal `json:"staked"`
	Reward        decimal.Decimal `json:"reward"`
	TransactionID string          `json:"transaction_id"`
}

// TickResponse describes one distribution tick.
type TickResponse struct {
	Outcome       rewards.Outcome  `json:"outcome"`
	Reason        string           `json:"reason,omitempty"`
	DistributedAt time.Time        `json:"distributed_at"`
	Total         decimal.Decimal  `json:"total"`
	PoolBefore    decimal.Decimal  `json:"pool_before"`
	PoolAfter     decimal.Decimal  `json:"pool_after"`
	Credits       []CreditResponse `json:"credits"`
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type aprRequest struct {
	APRRate decimal.Decimal `json:"apr_rate"`
}

// GetPool returns the reward pool.
func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.rewards.GetPool(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
}

// FundPool adds value to the reward pool.
func (s *Server) FundPool(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decode(r, "api.FundPool", &req); err != nil {
		writeError(w, r, err)
		return
	}
	pool, err := s.rewards.FundPool(r.Context(), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
}

// SetAPR replaces the pool APR.
func (s *Server) SetAPR(w http.ResponseWriter, r *http.Request) {
	var req aprRequest
	if err := decode(r, "api.SetAPR", &req); err != nil {
		writeError(w, r, err)
		return
	}
	pool, err := s.rewards.SetAPR(r.Context(), req.APRRate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(pool))
}

// RunDistribution runs one distribution tick on demand. Skipped ticks are
// not errors.
func (s *Server) RunDistribution(w http.ResponseWriter, r *http.Request) {
	res, err := s.rewards.RunDistributionTick(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		writeError(w, r, ledger.Errorf(ledger.KindInternal, "api.RunDistribution", "no tick result"))
		return
	}

	resp := TickResponse{
		Outcome:       res.Outcome,
		Reason:        res.Reason,
		DistributedAt: res.DistributedAt,
		Total:         res.Total,
		PoolBefore:    res.PoolBefore,
		PoolAfter:     res.PoolAfter,
		Credits:       make([]CreditResponse, 0, len(res.Credits)),
	}
	for _, c := range res.Credits {
		resp.Credits = append(resp.Credits, CreditResponse{
			UserID:        c.UserID,
			Staked:        c.Staked,
			Reward:        c.Reward,
			TransactionID: c.TransactionID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
