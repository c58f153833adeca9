package factory

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func (f *Factory) gate(mkt common.Address) (*domain.Approval, error) {
	a, ok := f.approvals[mkt]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	if a.Rejected {
		return nil, domain.ErrMarketAlreadyRejected
	}
	if a.Approved {
		return nil, domain.ErrMarketAlreadyApproved
	}
	return a, nil
}

// AdminApproveMarket moves a PROPOSED market to APPROVED. ADMIN only.
func (f *Factory) AdminApproveMarket(caller, mkt common.Address) error {
	if !f.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	a, err := f.gate(mkt)
	if err != nil {
		return err
	}
	if err := f.markets[mkt].Approve(f.addr); err != nil {
		return err
	}
	a.Approved = true
	a.DecidedBy = caller.Hex()
	a.DecidedAt = f.now()
	f.emit(domain.EventMarketApproved, mkt, caller, nil)
	return nil
}

// AdminRejectMarket finalizes a PROPOSED market as rejected. ADMIN only.
// With refundBondOnReject set the creator bond is released at once.
func (f *Factory) AdminRejectMarket(ctx context.Context, caller, mkt common.Address, reason string) error {
	if !f.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	a, err := f.gate(mkt)
	if err != nil {
		return err
	}
	reason = f.sanitize(reason)
	if err := f.markets[mkt].Reject(f.addr, reason); err != nil {
		return err
	}
	a.Rejected = true
	a.Reason = reason
	a.DecidedBy = caller.Hex()
	a.DecidedAt = f.now()
	f.emit(domain.EventMarketRejected, mkt, caller, map[string]any{"reason": reason})

	if f.marketDeps.Params.Snapshot().RefundBondOnReject {
		f.refund(ctx, caller, mkt, a, "rejected")
	}
	return nil
}

// ActivateMarket opens an approved market for betting. BACKEND or OPERATOR.
func (f *Factory) ActivateMarket(caller, mkt common.Address) error {
	if !f.hasRole(domain.RoleBackend, caller) && !f.hasRole(domain.RoleOperator, caller) {
		return domain.ErrUnauthorized
	}
	m, err := f.GetMarket(mkt)
	if err != nil {
		return err
	}
	if !f.approvals[mkt].Approved {
		return domain.ErrMarketNotApproved
	}
	if err := m.Activate(f.addr); err != nil {
		return err
	}
	f.emit(domain.EventMarketActivated, mkt, caller, nil)
	return nil
}

// RefundCreatorBond returns the held bond to the creator. The market must be
// approved, or finalized with refundBondOnReject set. A transfer failure
// leaves the bond held and emits BondRefundFailed.
func (f *Factory) RefundCreatorBond(ctx context.Context, caller, mkt common.Address, reason string) error {
	if caller != f.addr && !f.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	m, err := f.GetMarket(mkt)
	if err != nil {
		return err
	}
	a := f.approvals[mkt]
	if a.BondRefund {
		return domain.ErrBondAlreadyRefunded
	}
	eligible := a.Approved || (m.State() == domain.StateFinalized && f.marketDeps.Params.Snapshot().RefundBondOnReject)
	if !eligible {
		return domain.ErrBondNotRefundable
	}
	f.refund(ctx, caller, mkt, a, f.sanitize(reason))
	return nil
}

func (f *Factory) refund(ctx context.Context, caller, mkt common.Address, a *domain.Approval, reason string) {
	amount := f.bonds[mkt]
	if !amount.IsPositive() {
		a.BondRefund = true
		return
	}
	creator := f.markets[mkt].Creator()
	a.BondRefund = true
	f.bonds[mkt] = decimal.Zero
	if err := f.marketDeps.Transfers.Transfer(ctx, f.addr, creator, amount); err != nil {
		a.BondRefund = false
		f.bonds[mkt] = amount
		f.emit(domain.EventBondRefundFailed, mkt, caller, map[string]any{
			"creator": creator.Hex(),
			"amount":  amount.String(),
			"reason":  err.Error(),
		})
		f.log.Warn("creator bond refund failed",
			slog.String("market", mkt.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()))
		return
	}
	f.emit(domain.EventCreatorBondRefunded, mkt, caller, map[string]any{
		"creator": creator.Hex(),
		"amount":  amount.String(),
		"reason":  reason,
	})
}
