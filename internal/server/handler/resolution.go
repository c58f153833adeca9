package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/resolution"
)

// ResolutionService is what the resolution endpoints need from the engine.
type ResolutionService interface {
	GetResolution(mkt common.Address) (domain.ResolutionRecord, error)
	HeldBonds(mkt common.Address) decimal.Decimal

	ProposeResolution(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, evidence string) error
	SubmitDisputeSignals(ctx context.Context, caller, mkt common.Address, agree, disagree uint64) error
	DisputeResolution(ctx context.Context, caller, mkt common.Address, reason string, bond decimal.Decimal) error
	InvestigateDispute(ctx context.Context, caller, mkt common.Address, findings string) error
	ResolveDispute(ctx context.Context, caller, mkt common.Address, upheld bool, outcome domain.Outcome) error
	AdminResolveMarket(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, reason string) error
	FinalizeResolution(ctx context.Context, caller, mkt common.Address) error
	FinalizeExpired(ctx context.Context, caller common.Address) (resolution.BatchResult, error)
	WithdrawHeldBonds(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error)
}

// ResolutionHandler serves /api/resolutions.
type ResolutionHandler struct {
	rm     ResolutionService
	logger *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler with the given service and
// logger.
func NewResolutionHandler(rm ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{rm: rm, logger: logger.With(slog.String("handler", "resolution"))}
}

type resolutionResponse struct {
	domain.ResolutionRecord
	HeldBonds decimal.Decimal `json:"held_bonds"`
}

// GetResolution returns the resolution record of a market.
// GET /api/resolutions/{addr}
func (h *ResolutionHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	rec, err := h.rm.GetResolution(mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "get resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionResponse{ResolutionRecord: rec, HeldBonds: h.rm.HeldBonds(mkt)})
}

// withMarket authenticates the caller, parses the market and decodes req
// before calling fn.
func withMarket[T any](h *ResolutionHandler, op string, fn func(ctx context.Context, caller, mkt common.Address, req *T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		mkt, ok := pathAddress(w, r, "addr")
		if !ok {
			return
		}
		var req T
		if !decode(w, r, &req) {
			return
		}
		if err := fn(r.Context(), who, mkt, &req); err != nil {
			writeEngineError(w, r, h.logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type proposeRequest struct {
	Outcome  uint8  `json:"outcome" validate:"oneof=1 2 3"`
	Evidence string `json:"evidence" validate:"required,max=2000"`
}

// Propose records a RESOLVER's outcome and opens the dispute window.
// POST /api/resolutions/{addr}/propose
func (h *ResolutionHandler) Propose() http.HandlerFunc {
	return withMarket(h, "propose resolution", func(ctx context.Context, who, mkt common.Address, req *proposeRequest) error {
		return h.rm.ProposeResolution(ctx, who, mkt, domain.Outcome(req.Outcome), req.Evidence)
	})
}

type signalsRequest struct {
	Agree    uint64 `json:"agree"`
	Disagree uint64 `json:"disagree"`
}

// Signals submits aggregated community counts. Crossing the agreement
// threshold finalizes the market; crossing the disagreement threshold
// disputes it.
// POST /api/resolutions/{addr}/signals
func (h *ResolutionHandler) Signals() http.HandlerFunc {
	return withMarket(h, "submit dispute signals", func(ctx context.Context, who, mkt common.Address, req *signalsRequest) error {
		return h.rm.SubmitDisputeSignals(ctx, who, mkt, req.Agree, req.Disagree)
	})
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
	Bond   string `json:"bond" validate:"required,numeric"`
}

// Dispute challenges a proposal inside its window. The bond must be at
// least the minimum dispute bond and is held until the dispute is resolved.
// POST /api/resolutions/{addr}/dispute
func (h *ResolutionHandler) Dispute() http.HandlerFunc {
	return withMarket(h, "dispute resolution", func(ctx context.Context, who, mkt common.Address, req *disputeRequest) error {
		return h.rm.DisputeResolution(ctx, who, mkt, req.Reason, amount(req.Bond))
	})
}

type investigateRequest struct {
	Findings string `json:"findings" validate:"required,max=5000"`
}

// Investigate attaches findings to a disputed resolution.
// POST /api/resolutions/{addr}/investigate
func (h *ResolutionHandler) Investigate() http.HandlerFunc {
	return withMarket(h, "investigate dispute", func(ctx context.Context, who, mkt common.Address, req *investigateRequest) error {
		return h.rm.InvestigateDispute(ctx, who, mkt, req.Findings)
	})
}

type resolveDisputeRequest struct {
	Upheld  bool  `json:"upheld"`
	Outcome uint8 `json:"outcome" validate:"oneof=0 1 2 3"`
}

// ResolveDispute settles a dispute. When upheld the market finalizes at
// outcome and the disputer's bond is returned; otherwise the proposal stands.
// POST /api/resolutions/{addr}/resolve-dispute
func (h *ResolutionHandler) ResolveDispute() http.HandlerFunc {
	return withMarket(h, "resolve dispute", func(ctx context.Context, who, mkt common.Address, req *resolveDisputeRequest) error {
		return h.rm.ResolveDispute(ctx, who, mkt, req.Upheld, domain.Outcome(req.Outcome))
	})
}

type adminResolveRequest struct {
	Outcome uint8  `json:"outcome" validate:"oneof=1 2 3"`
	Reason  string `json:"reason" validate:"required,max=2000"`
}

// POST /api/resolutions/{addr}/admin-resolve
func (h *ResolutionHandler) AdminResolve() http.HandlerFunc {
	return withMarket(h, "admin resolve", func(ctx context.Context, who, mkt common.Address, req *adminResolveRequest) error {
		return h.rm.AdminResolveMarket(ctx, who, mkt, domain.Outcome(req.Outcome), req.Reason)
	})
}

// Finalize closes a resolution whose dispute window has passed.
// POST /api/resolutions/{addr}/finalize
func (h *ResolutionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	if err := h.rm.FinalizeResolution(r.Context(), who, mkt); err != nil {
		writeEngineError(w, r, h.logger, "finalize resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FinalizeExpired finalizes every expired undisputed resolution.
// POST /api/resolutions/finalize-expired
func (h *ResolutionHandler) FinalizeExpired(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.rm.FinalizeExpired(r.Context(), who)
	if err != nil {
		writeEngineError(w, r, h.logger, "finalize expired", err)
		return
	}
	failures := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		if e != nil {
			failures = append(failures, e.Error())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"succeeded": res.Succeeded, "failures": failures})
}

// WithdrawBonds moves held dispute bonds to the treasury.
// POST /api/resolutions/{addr}/withdraw-bonds
func (h *ResolutionHandler) WithdrawBonds(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	mkt, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	amt, err := h.rm.WithdrawHeldBonds(r.Context(), who, mkt)
	if err != nil {
		writeEngineError(w, r, h.logger, "withdraw held bonds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amt})
}
