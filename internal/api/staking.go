package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/domain"
	"launchpad-ledger/internal/staking"
)

// AccountResponse is a user's staking position.
type AccountResponse struct {
	UserID           string          `json:"user_id"`
	WalletAddress    string          `json:"wallet_address"`
	StakedAmount     decimal.Decimal `json:"staked_amount"`
	ClaimableRewards decimal.Decimal `json:"claimable_rewards"`
	DonationBalance  decimal.Decimal `json:"donation_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func newAccountResponse(a *domain.StakingAccount) AccountResponse {
	return AccountResponse{
		UserID:           a.UserID,
		WalletAddress:    a.WalletAddress,
		StakedAmount:     a.StakedAmount,
		ClaimableRewards: a.ClaimableRewards,
		DonationBalance:  a.DonationBalance,
		UpdatedAt:        a.UpdatedAt,
	}
}

// TransactionResponse is one ledger audit record.
type TransactionResponse struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	WalletAddress string                 `json:"wallet_address,omitempty"`
	Type          domain.TransactionType `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	Seq           int64                  `json:"seq"`
	CreatedAt     time.Time              `json:"created_at"`
}

func newTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		UserID:        t.UserID,
		WalletAddress: t.WalletAddress,
		Type:          t.Type,
		Amount:        t.Amount,
		Seq:           t.Seq,
		CreatedAt:     t.CreatedAt,
	}
}

// StakingResultResponse is the committed outcome of stake or unstake.
type StakingResultResponse struct {
	Account     AccountResponse     `json:"account"`
	Transaction TransactionResponse `json:"transaction"`
}

// ClaimResponse is the committed outcome of a claim. PayoutKey identifies
// the external transfer to perform exactly once.
type ClaimResponse struct {
	StakingResultResponse
	Amount    decimal.Decimal `json:"amount"`
	PayoutKey string          `json:"payout_key"`
}

func newStakingResultResponse(res *staking.Result) StakingResultResponse {
	return StakingResultResponse{
		Account:     newAccountResponse(&res.Account),
		Transaction: newTransactionResponse(&res.Transaction),
	}
}

type stakeRequest struct {
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
}

type unstakeRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type claimRequest struct {
	UserID string `json:"user_id"`
}

// Stake moves part of the user's external balance into stake.
func (s *Server) Stake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decode(r, "api.Stake", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.staking.Stake(r.Context(), req.UserID, req.WalletAddress, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStakingResultResponse(res))
}

// Unstake releases staked value back to the available balance.
func (s *Server) Unstake(w http.ResponseWriter, r *http.Request) {
	var req unstakeRequest
	if err := decode(r, "api.Unstake", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.staking.Unstake(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStakingResultResponse(res))
}

// Claim pays out all claimable rewards.
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, "api.Claim", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.staking.Claim(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		StakingResultResponse: newStakingResultResponse(&res.Result),
		Amount:                res.Amount,
		PayoutKey:             res.PayoutKey,
	})
}

// GetAccount returns a user's staking account.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.staking.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

// ListTransactions returns a user's ledger audit trail in commit order.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.staking.ListTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]TransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}
