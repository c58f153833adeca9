package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// MarketService is what the market endpoints need from the engine.
type MarketService interface {
	GetMarket(ctx context.Context, mkt common.Address) (domain.MarketView, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketView, error)
	Odds(mkt common.Address) (int64, int64, error)
	Position(mkt, principal common.Address) (service.PositionView, error)

	CreateMarket(ctx context.Context, caller common.Address, cfg domain.MarketConfig, bond decimal.Decimal) (domain.MarketView, error)
	ApproveMarket(ctx context.Context, caller, mkt common.Address) error
	RejectMarket(ctx context.Context, caller, mkt common.Address, reason string) error
	ActivateMarket(ctx context.Context, caller, mkt common.Address) error
	RefundCreatorBond(ctx context.Context, caller, mkt common.Address, reason string) error

	PlaceBet(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, minOdds int64, deadline time.Time, payment decimal.Decimal) (domain.BetReceipt, error)
	ClaimWinnings(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
	WithdrawUnclaimed(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
	WithdrawAccumulatedFees(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
	EmergencyWithdraw(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
}

// MarketHandler serves /api/markets.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "market"))}
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets with pagination. state, category and creator
// narrow the list; an unknown state or a malformed creator address is a 400.
// GET /api/markets?state=ACTIVE&category=sports&creator=0x..&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.MarketFilter{ListOpts: parseListOpts(r), Category: q.Get("category")}
	if s := q.Get("state"); s != "" {
		var st domain.MarketState
		if err := st.UnmarshalText([]byte(s)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.State = &st
	}
	if c := q.Get("creator"); c != "" {
		if !common.IsHexAddress(c) {
			writeError(w, http.StatusBadRequest, "invalid creator address")
			return
		}
		creator := common.HexToAddress(c)
		filter.Creator = &creator
	}

	markets, err := h.markets.ListMarkets(r.Context(), filter)
	if err != nil {
		writeEngineError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.MarketView{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: filter.Limit, Offset: filter.Offset})
}

// GetMarket returns a single market by its address. The view may come from
// the cache rather than the engine.
// GET /api/markets/{addr}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	v, err := h.markets.GetMarket(r.Context(), mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetOdds returns the implied odds in basis points.
// GET /api/markets/{addr}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	o1, o2, err := h.markets.Odds(mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"odds1_bps": o1, "odds2_bps": o2})
}

// GetPosition returns a principal's position and payout.
// GET /api/markets/{addr}/positions/{principal}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	who, ok := pathAddress(w, r, "principal")
	if !ok {
		return
	}
	pv, err := h.markets.Position(mkt, who)
	if err != nil {
		writeEngineError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

type createMarketRequest struct {
	Question       string    `json:"question" validate:"required,max=500"`
	Description    string    `json:"description" validate:"max=5000"`
	Category       string    `json:"category" validate:"max=64"`
	Outcome1       string    `json:"outcome1" validate:"max=64"`
	Outcome2       string    `json:"outcome2" validate:"max=64"`
	ResolutionTime time.Time `json:"resolution_time" validate:"required"`
	CreatorBond    string    `json:"creator_bond" validate:"required,numeric"`
	// Payment is the value sent with the call; it defaults to CreatorBond.
	Payment string `json:"payment" validate:"omitempty,numeric"`
}

// CreateMarket creates a market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decode(w, r, &req) {
		return
	}
	payment := req.Payment
	if payment == "" {
		payment = req.CreatorBond
	}
	cfg := domain.MarketConfig{
		Question:       req.Question,
		Description:    req.Description,
		ResolutionTime: req.ResolutionTime,
		CreatorBond:    amount(req.CreatorBond),
		Category:       req.Category,
		Outcome1:       req.Outcome1,
		Outcome2:       req.Outcome2,
	}
	v, err := h.markets.CreateMarket(r.Context(), who, cfg, amount(payment))
	if err != nil {
		writeEngineError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// marketAction runs a no-body admin transition on the market in the path.
func (h *MarketHandler) marketAction(op string, fn func(ctx context.Context, caller, mkt common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		mkt, ok := pathAddress(w, r, "addr")
		if !ok {
			return
		}
		if err := fn(r.Context(), who, mkt); err != nil {
			writeEngineError(w, r, h.logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// reasonAction is marketAction for transitions that take a reason.
func (h *MarketHandler) reasonAction(op string, fn func(ctx context.Context, caller, mkt common.Address, reason string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		mkt, ok := pathAddress(w, r, "addr")
		if !ok {
			return
		}
		var req reasonRequest
		if !decode(w, r, &req) {
			return
		}
		if err := fn(r.Context(), who, mkt, req.Reason); err != nil {
			writeEngineError(w, r, h.logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// payoutAction runs a withdrawal and reports the amount moved.
func (h *MarketHandler) payoutAction(op string, fn func(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		mkt, ok := pathAddress(w, r, "addr")
		if !ok {
			return
		}
		amt, err := fn(r.Context(), who, mkt)
		if err != nil {
			writeEngineError(w, r, h.logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amt})
	}
}

// Approve marks a proposed market approved so it can be activated. ADMIN only.
// POST /api/markets/{addr}/approve
func (h *MarketHandler) Approve() http.HandlerFunc {
	return h.marketAction("approve market", h.markets.ApproveMarket)
}

// Reject finalizes a proposed market as rejected. ADMIN only. The optional
// reason is sanitized and recorded on the event.
// POST /api/markets/{addr}/reject
func (h *MarketHandler) Reject() http.HandlerFunc {
	return h.reasonAction("reject market", h.markets.RejectMarket)
}

// Activate opens an approved market for betting.
// POST /api/markets/{addr}/activate
func (h *MarketHandler) Activate() http.HandlerFunc {
	return h.marketAction("activate market", h.markets.ActivateMarket)
}

// RefundBond returns the held creator bond. The market must be approved, or
// rejected while refundBondOnReject is set.
// POST /api/markets/{addr}/refund-bond
func (h *MarketHandler) RefundBond() http.HandlerFunc {
	return h.reasonAction("refund creator bond", h.markets.RefundCreatorBond)
}

// Claim pays the caller's winnings on a finalized market and responds with
// the amount. A failed transfer still succeeds; the amount is parked for
// withdraw-unclaimed.
// POST /api/markets/{addr}/claim
func (h *MarketHandler) Claim() http.HandlerFunc {
	return h.payoutAction("claim winnings", h.markets.ClaimWinnings)
}

// WithdrawUnclaimed retries a parked payout.
// POST /api/markets/{addr}/withdraw-unclaimed
func (h *MarketHandler) WithdrawUnclaimed() http.HandlerFunc {
	return h.payoutAction("withdraw unclaimed", h.markets.WithdrawUnclaimed)
}

// WithdrawFees retries handing fees the ledger refused at settlement to it.
// If it refuses again the admin is paid directly.
// POST /api/markets/{addr}/withdraw-fees
func (h *MarketHandler) WithdrawFees() http.HandlerFunc {
	return h.payoutAction("withdraw accumulated fees", h.markets.WithdrawAccumulatedFees)
}

// POST /api/markets/{addr}/emergency-withdraw
func (h *MarketHandler) EmergencyWithdraw() http.HandlerFunc {
	return h.payoutAction("emergency withdraw", h.markets.EmergencyWithdraw)
}

type placeBetRequest struct {
	Outcome  uint8      `json:"outcome" validate:"oneof=1 2"`
	Amount   string     `json:"amount" validate:"required,numeric"`
	MinOdds  int64      `json:"min_odds_bps" validate:"gte=0,lte=1000000"`
	Deadline *time.Time `json:"deadline"`
}

// PlaceBet places a bet for the caller.
// POST /api/markets/{addr}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req placeBetRequest
	if !decode(w, r, &req) {
		return
	}
	var deadline time.Time
	if req.Deadline != nil {
		deadline = *req.Deadline
	}
	receipt, err := h.markets.PlaceBet(r.Context(), who, mkt, domain.Outcome(req.Outcome), req.MinOdds, deadline, amount(req.Amount))
	if err != nil {
		writeEngineError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}
