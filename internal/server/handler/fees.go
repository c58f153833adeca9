package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// FeeService is what the fee and treasury endpoints need from the engine.
type FeeService interface {
	MarketFees(mkt common.Address) (service.MarketFees, error)
	LedgerBalances() domain.LedgerBalances
	RewardClaims(ctx context.Context, claimer common.Address, opts domain.ListOpts) (service.RewardSummary, error)
	ClaimCreatorFees(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
	WithdrawTreasury(ctx context.Context, caller, to common.Address, amount decimal.Decimal) error
	DistributeStakerRewards(ctx context.Context, caller, staker common.Address, amount decimal.Decimal) error
}

// FeeHandler serves /api/fees, /api/rewards and /api/treasury.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler with the given service and logger.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, logger: logger.With(slog.String("handler", "fees"))}
}

// GetMarketFees returns a market's fee record and pending buckets.
// GET /api/fees/{addr}
func (h *FeeHandler) GetMarketFees(w http.ResponseWriter, r *http.Request) {
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	mf, err := h.fees.MarketFees(mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "get market fees", err)
		return
	}
	writeJSON(w, http.StatusOK, mf)
}

// ClaimCreator pays out a market's creator fees to its creator.
// POST /api/fees/{addr}/claim-creator
func (h *FeeHandler) ClaimCreator(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	amt, err := h.fees.ClaimCreatorFees(r.Context(), who, mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "claim creator fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amt})
}

// GetRewards returns a claimer's reward history.
// GET /api/rewards/{principal}?limit=50&offset=0
func (h *FeeHandler) GetRewards(w http.ResponseWriter, r *http.Request) {
	who, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}
	sum, err := h.fees.RewardClaims(r.Context(), who, parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list reward claims", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetTreasury returns the ledger's pooled balances.
// GET /api/treasury
func (h *FeeHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fees.LedgerBalances())
}

type payoutRequest struct {
	To     string `json:"to" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,numeric"`
}

// WithdrawTreasury pays treasury funds out.
// POST /api/treasury/withdraw
func (h *FeeHandler) WithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "withdraw treasury", h.fees.WithdrawTreasury)
}

// DistributeStaker pays from the staker pool.
// POST /api/treasury/distribute-staker
func (h *FeeHandler) DistributeStaker(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "distribute staker rewards", h.fees.DistributeStakerRewards)
}

func (h *FeeHandler) payout(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, caller, to common.Address, amount decimal.Decimal) error) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req payoutRequest
	if !decode(w, r, &req) {
		return
	}
	if err := fn(r.Context(), who, common.HexToAddress(req.To), amount(req.Amount)); err != nil {
		writeEngineError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
