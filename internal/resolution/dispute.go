package resolution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// DisputeResolution opens a bonded dispute against a pending record. The
// whole bond is held, including any excess over the minimum. An explicit
// dispute closes the community window; arbitration decides from here.
func (r *Manager) DisputeResolution(caller, mkt common.Address, reason string, bond decimal.Decimal) error {
	if r.paused {
		return domain.ErrPaused
	}
	rec, ok := r.records[mkt]
	if !ok {
		return domain.ErrNoResolutionFound
	}
	if rec.Status == domain.ResolutionFinalized {
		return domain.ErrMarketAlreadyResolved
	}
	if r.now().After(rec.DisputeWindowEnd) {
		return domain.ErrDisputeWindowClosed
	}
	if rec.DisputeOpen() {
		return domain.ErrDisputeAlreadyExists
	}
	if bond.LessThan(r.deps.Params.Snapshot().MinDisputeBond) {
		return domain.ErrInsufficientDisputeBond
	}
	m, err := r.deps.Markets.GetMarket(mkt)
	if err != nil {
		return err
	}
	if m.State() == domain.StateResolving {
		if err := m.MarkDisputed(r.addr); err != nil {
			return err
		}
	}
	rec.Disputed = true
	rec.Disputer = caller
	rec.DisputeBond = bond
	rec.DisputeReason = r.sanitize(reason)
	rec.Status = domain.ResolutionDisputed
	rec.CommunityActive = false

	r.emit(domain.EventResolutionDisputed, mkt, caller, map[string]any{
		"reason": rec.DisputeReason,
		"bond":   bond.String(),
	})
	return nil
}

// InvestigateDispute records admin findings on an open dispute.
func (r *Manager) InvestigateDispute(caller, mkt common.Address, findings string) error {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	rec, ok := r.records[mkt]
	if !ok || !rec.DisputeOpen() {
		return domain.ErrNoDisputeFound
	}
	rec.Findings = r.sanitize(findings)
	r.emit(domain.EventDisputeInvestigated, mkt, caller, map[string]any{"findings": rec.Findings})
	return nil
}

// ResolveDispute arbitrates an open dispute. An upheld dispute refunds the
// bond and settles at newOutcome; a rejected one sends the bond to the
// treasury and settles at the proposed outcome.
func (r *Manager) ResolveDispute(ctx context.Context, caller, mkt common.Address, upheld bool, newOutcome domain.Outcome) error {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	rec, ok := r.records[mkt]
	if !ok || !rec.DisputeOpen() {
		return domain.ErrNoDisputeFound
	}
	outcome := rec.ProposedOutcome
	if upheld {
		if !newOutcome.Resolvable() {
			return domain.ErrInvalidOutcome
		}
		outcome = newOutcome
	}
	leave, err := r.enter()
	if err != nil {
		return err
	}
	defer leave()

	if err := r.finalize(ctx, caller, rec, outcome); err != nil {
		return err
	}
	r.settleBond(ctx, caller, rec, upheld)
	r.emit(domain.EventDisputeResolved, mkt, caller, map[string]any{
		"upheld":  upheld,
		"outcome": rec.FinalOutcome.String(),
	})
	return nil
}

// AdminResolveMarket settles a RESOLVING or DISPUTED market directly. An open
// bond is treated as a rejected dispute when outcome matches the proposal and
// as upheld otherwise.
func (r *Manager) AdminResolveMarket(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, reason string) error {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if !outcome.Resolvable() {
		return domain.ErrInvalidOutcome
	}
	rec, ok := r.records[mkt]
	if !ok {
		return domain.ErrNoResolutionFound
	}
	m, err := r.deps.Markets.GetMarket(mkt)
	if err != nil {
		return err
	}
	if s := m.State(); s != domain.StateResolving && s != domain.StateDisputed {
		return domain.ErrInvalidTransition
	}
	leave, err := r.enter()
	if err != nil {
		return err
	}
	defer leave()

	bonded := rec.DisputeOpen()
	if err := r.finalize(ctx, caller, rec, outcome); err != nil {
		return err
	}
	if bonded {
		r.settleBond(ctx, caller, rec, outcome != rec.ProposedOutcome)
	}
	r.emit(domain.EventAdminResolution, mkt, caller, map[string]any{
		"outcome": outcome.String(),
		"reason":  r.sanitize(reason),
	})
	return nil
}

// settleBond releases the dispute bond of rec. A failed refund or deposit
// parks the bond in heldBonds for WithdrawHeldBonds.
func (r *Manager) settleBond(ctx context.Context, caller common.Address, rec *domain.ResolutionRecord, upheld bool) {
	bond := rec.DisputeBond
	if !bond.IsPositive() {
		return
	}
	if upheld {
		if err := r.deps.Transfers.Transfer(ctx, r.addr, rec.Disputer, bond); err != nil {
			r.holdBond(caller, rec.Market, bond, rec.Disputer, err)
			return
		}
		r.emit(domain.EventDisputeBondRefunded, rec.Market, caller, map[string]any{
			"disputer": rec.Disputer.Hex(),
			"amount":   bond.String(),
		})
		return
	}
	if err := r.depositTreasury(ctx, bond); err != nil {
		r.holdBond(caller, rec.Market, bond, common.Address{}, err)
		return
	}
	r.emit(domain.EventDisputeBondCollected, rec.Market, caller, map[string]any{"amount": bond.String()})
}

func (r *Manager) holdBond(caller, mkt common.Address, bond decimal.Decimal, recipient common.Address, cause error) {
	r.heldBonds[mkt] = r.heldBonds[mkt].Add(bond)
	r.emit(domain.EventDisputeBondTransferFailed, mkt, caller, map[string]any{
		"recipient": recipient.Hex(),
		"amount":    bond.String(),
		"reason":    cause.Error(),
	})
	r.log.Warn("dispute bond transfer failed, holding",
		slog.String("market", mkt.Hex()),
		slog.String("amount", bond.String()),
		slog.String("error", cause.Error()))
}

func (r *Manager) depositTreasury(ctx context.Context, amount decimal.Decimal) error {
	if r.deps.Registry == nil {
		return domain.ErrContractNotFound
	}
	ledger, err := registry.Resolve[domain.TreasuryDepositor](r.deps.Registry, registry.KeyRewardDistributor)
	if err != nil {
		return err
	}
	return ledger.DepositTreasury(ctx, r.addr, amount)
}

// WithdrawHeldBonds retries the treasury deposit for bonds held on mkt and
// falls back to paying the calling admin. If both fail the bonds stay held.
func (r *Manager) WithdrawHeldBonds(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	if !r.hasRole(domain.RoleAdmin, caller) {
		return decimal.Zero, domain.ErrUnauthorized
	}
	held := r.heldBonds[mkt]
	if !held.IsPositive() {
		return decimal.Zero, domain.ErrNoHeldBonds
	}
	leave, err := r.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer leave()

	r.heldBonds[mkt] = decimal.Zero
	recipient := r.ledgerAddress()
	if err := r.depositTreasury(ctx, held); err != nil {
		recipient = caller
		if err2 := r.deps.Transfers.Transfer(ctx, r.addr, caller, held); err2 != nil {
			r.heldBonds[mkt] = held
			return decimal.Zero, fmt.Errorf("resolution: held bonds: %v: %w", err2, domain.ErrTransferFailed)
		}
	}
	r.emit(domain.EventHeldBondsWithdrawn, mkt, caller, map[string]any{
		"recipient": recipient.Hex(),
		"amount":    held.String(),
	})
	return held, nil
}

func (r *Manager) ledgerAddress() common.Address {
	if r.deps.Registry == nil {
		return common.Address{}
	}
	addr, _ := r.deps.Registry.GetContract(registry.KeyRewardDistributor)
	return addr
}
