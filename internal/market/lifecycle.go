package market

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

func (m *Market) onlyFactory(caller common.Address) error {
	if caller != m.factory {
		return domain.ErrOnlyFactory
	}
	return nil
}

// onlyResolutionManager checks caller against the registry entry at call
// time, so a swapped manager takes effect immediately.
func (m *Market) onlyResolutionManager(caller common.Address) error {
	if m.deps.Registry == nil {
		return domain.ErrOnlyResolutionManager
	}
	rm, err := m.deps.Registry.GetContract(registry.KeyResolutionManager)
	if err != nil || caller != rm {
		return domain.ErrOnlyResolutionManager
	}
	return nil
}

func (m *Market) transition(caller common.Address, to domain.MarketState) {
	m.state = to
	m.emit(domain.EventMarketStateChanged, caller, map[string]any{
		"state":     to.String(),
		"timestamp": m.now().Unix(),
	})
}

// Approve moves PROPOSED to APPROVED.
func (m *Market) Approve(caller common.Address) error {
	if err := m.onlyFactory(caller); err != nil {
		return err
	}
	if m.state != domain.StateProposed {
		return domain.ErrInvalidTransition
	}
	m.transition(caller, domain.StateApproved)
	return nil
}

// Reject finalizes a PROPOSED market as cancelled. It never activates.
func (m *Market) Reject(caller common.Address, reason string) error {
	if err := m.onlyFactory(caller); err != nil {
		return err
	}
	if m.state != domain.StateProposed {
		return domain.ErrInvalidTransition
	}
	m.rejected = true
	m.result = domain.OutcomeCancelled
	m.resolvedAt = m.now()
	m.transition(caller, domain.StateFinalized)
	m.log.Info("market rejected", slog.String("reason", reason))
	return nil
}

// Activate moves APPROVED to ACTIVE.
func (m *Market) Activate(caller common.Address) error {
	if err := m.onlyFactory(caller); err != nil {
		return err
	}
	if m.state != domain.StateApproved {
		return domain.ErrInvalidTransition
	}
	m.transition(caller, domain.StateActive)
	return nil
}

// ProposeOutcome moves ACTIVE to RESOLVING. Betting stops here.
func (m *Market) ProposeOutcome(caller common.Address, outcome domain.Outcome) error {
	if err := m.onlyResolutionManager(caller); err != nil {
		return err
	}
	if !outcome.Resolvable() {
		return domain.ErrInvalidOutcome
	}
	if m.state != domain.StateActive {
		return domain.ErrInvalidTransition
	}
	m.transition(caller, domain.StateResolving)
	return nil
}

// MarkDisputed moves RESOLVING to DISPUTED.
func (m *Market) MarkDisputed(caller common.Address) error {
	if err := m.onlyResolutionManager(caller); err != nil {
		return err
	}
	if m.state != domain.StateResolving {
		return domain.ErrInvalidTransition
	}
	m.transition(caller, domain.StateDisputed)
	return nil
}

// Finalize locks the result and settles the fee. An outcome nobody backed
// cancels the market. A failing fee collector never blocks finalization:
// the fee is buffered in accumulatedFees instead.
func (m *Market) Finalize(ctx context.Context, caller common.Address, outcome domain.Outcome) (domain.Outcome, error) {
	if err := m.onlyResolutionManager(caller); err != nil {
		return domain.OutcomeNone, err
	}
	if !outcome.Resolvable() {
		return domain.OutcomeNone, domain.ErrInvalidOutcome
	}
	if m.state != domain.StateResolving && m.state != domain.StateDisputed {
		return domain.OutcomeNone, domain.ErrInvalidTransition
	}
	eff := m.deps.Params.Snapshot()

	result := outcome
	if result != domain.OutcomeCancelled && !m.pool.Shares(result).IsPositive() {
		result = domain.OutcomeCancelled
	}
	m.result = result
	m.resolvedAt = m.now()
	m.transition(caller, domain.StateFinalized)

	if result == domain.OutcomeCancelled {
		return result, nil
	}
	m.fee = domain.Bps(m.pool.Total(), eff.PlatformFeeBps)
	if m.fee.IsPositive() {
		m.handOffFee(ctx, caller)
	}
	return result, nil
}

func (m *Market) collectFees(ctx context.Context, amount decimal.Decimal) error {
	if m.deps.Registry == nil {
		return domain.ErrContractNotFound
	}
	collector, err := registry.Resolve[domain.FeeCollector](m.deps.Registry, registry.KeyRewardDistributor)
	if err != nil {
		return err
	}
	return collector.CollectFees(ctx, m.addr, amount, amount)
}

func (m *Market) handOffFee(ctx context.Context, caller common.Address) {
	if err := m.collectFees(ctx, m.fee); err != nil {
		m.accumulatedFees = m.accumulatedFees.Add(m.fee)
		m.emit(domain.EventFeeCollectionFailed, caller, map[string]any{
			"amount": m.fee.String(),
			"reason": err.Error(),
		})
		m.log.Warn("fee collection failed, buffering",
			slog.String("amount", m.fee.String()),
			slog.String("error", err.Error()))
		return
	}
	m.feesTransferred = m.feesTransferred.Add(m.fee)
}
