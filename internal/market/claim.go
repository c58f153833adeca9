package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// ClaimWinnings pays caller's settlement amount. The claim is marked before
// the transfer, and the transfer is bounded by ClaimTransferTimeout; if it
// fails the amount moves to the caller's unclaimed balance and the claim
// still succeeds.
func (m *Market) ClaimWinnings(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	exit, err := m.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer exit()

	if m.state != domain.StateFinalized {
		return decimal.Zero, domain.ErrMarketNotResolved
	}
	pos, ok := m.positions[caller]
	if ok && pos.Claimed {
		return decimal.Zero, domain.ErrAlreadyClaimed
	}
	amount := m.CalculatePayout(caller)
	if !ok || !amount.IsPositive() {
		return decimal.Zero, domain.ErrNoWinnings
	}
	if !m.emergencyWithdrawn.IsZero() {
		return decimal.Zero, domain.ErrNoFundsToWithdraw
	}
	pos.Claimed = true

	tctx, cancel := context.WithTimeout(ctx, ClaimTransferTimeout)
	err = m.deps.Transfers.Transfer(tctx, m.addr, caller, amount)
	cancel()
	if err != nil {
		pos.Unclaimed = pos.Unclaimed.Add(amount)
		m.emit(domain.EventClaimFailed, caller, map[string]any{
			"amount": amount.String(),
			"reason": err.Error(),
		})
		m.emit(domain.EventUnclaimedWinningsStored, caller, map[string]any{
			"amount": amount.String(),
		})
		m.log.Warn("claim transfer failed, stored as unclaimed",
			slog.String("principal", caller.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()))
		return amount, nil
	}
	m.paidOut = m.paidOut.Add(amount)
	m.emit(domain.EventWinningsClaimed, caller, map[string]any{"amount": amount.String()})
	return amount, nil
}

// WithdrawUnclaimed retries the payout of a stored balance without the claim
// timeout. A failed transfer restores the balance.
func (m *Market) WithdrawUnclaimed(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	exit, err := m.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer exit()

	pos, ok := m.positions[caller]
	if !ok || !pos.Unclaimed.IsPositive() {
		return decimal.Zero, domain.ErrNoUnclaimedWinnings
	}
	amount := pos.Unclaimed
	pos.Unclaimed = decimal.Zero

	if err := m.deps.Transfers.Transfer(ctx, m.addr, caller, amount); err != nil {
		pos.Unclaimed = amount
		m.emit(domain.EventUnclaimedWithdrawFailed, caller, map[string]any{
			"amount": amount.String(),
			"reason": err.Error(),
		})
		return decimal.Zero, fmt.Errorf("market: withdraw unclaimed: %w: %v", domain.ErrTransferFailed, err)
	}
	m.paidOut = m.paidOut.Add(amount)
	m.emit(domain.EventWinningsWithdrawn, caller, map[string]any{"amount": amount.String()})
	return amount, nil
}

// WithdrawAccumulatedFees retries handing buffered fees to the fee
// collector. If the collector still fails, the admin receives them directly.
func (m *Market) WithdrawAccumulatedFees(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	exit, err := m.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer exit()

	if !m.isAdmin(caller) {
		return decimal.Zero, domain.ErrOnlyAdmin
	}
	amount := m.accumulatedFees
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNoAccumulatedFees
	}
	m.accumulatedFees = decimal.Zero

	recipient, viaLedger := common.Address{}, true
	if err := m.collectFees(ctx, amount); err != nil {
		m.log.Warn("fee collector retry failed, paying admin",
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()))
		if err := m.deps.Transfers.Transfer(ctx, m.addr, caller, amount); err != nil {
			m.accumulatedFees = amount
			return decimal.Zero, fmt.Errorf("market: withdraw fees: %w: %v", domain.ErrTransferFailed, err)
		}
		recipient, viaLedger = caller, false
	} else if addr, err := m.deps.Registry.GetContract(registry.KeyRewardDistributor); err == nil {
		recipient = addr
	}
	m.feesTransferred = m.feesTransferred.Add(amount)
	m.emit(domain.EventAccumulatedFeesWithdrawn, caller, map[string]any{
		"recipient":  recipient.Hex(),
		"amount":     amount.String(),
		"via_ledger": viaLedger,
	})
	return amount, nil
}

// EmergencyWithdraw sends everything the market still holds to the admin
// once emergencyWithdrawDelay has passed since resolution.
func (m *Market) EmergencyWithdraw(ctx context.Context, caller common.Address) (decimal.Decimal, error) {
	exit, err := m.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer exit()

	if !m.isAdmin(caller) {
		return decimal.Zero, domain.ErrOnlyAdmin
	}
	if m.state != domain.StateFinalized {
		return decimal.Zero, domain.ErrMarketNotResolved
	}
	eff := m.deps.Params.Snapshot()
	if m.now().Before(m.resolvedAt.Add(eff.EmergencyWithdrawDelay)) {
		return decimal.Zero, domain.ErrTooEarlyForEmergency
	}
	amount := m.Balance()
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNoFundsToWithdraw
	}

	buffered := m.accumulatedFees
	unclaimed := make(map[common.Address]decimal.Decimal)
	for a, p := range m.positions {
		if p.Unclaimed.IsPositive() {
			unclaimed[a] = p.Unclaimed
			p.Unclaimed = decimal.Zero
		}
	}
	m.accumulatedFees = decimal.Zero
	m.emergencyWithdrawn = m.emergencyWithdrawn.Add(amount)

	if err := m.deps.Transfers.Transfer(ctx, m.addr, caller, amount); err != nil {
		m.emergencyWithdrawn = m.emergencyWithdrawn.Sub(amount)
		m.accumulatedFees = buffered
		for a, v := range unclaimed {
			m.positions[a].Unclaimed = v
		}
		return decimal.Zero, fmt.Errorf("market: emergency withdraw: %w: %v", domain.ErrTransferFailed, err)
	}
	m.emit(domain.EventEmergencyWithdrawal, caller, map[string]any{
		"recipient": caller.Hex(),
		"amount":    amount.String(),
	})
	m.log.Warn("emergency withdrawal", slog.String("amount", amount.String()), slog.String("admin", caller.Hex()))
	return amount, nil
}
