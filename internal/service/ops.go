package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/registry"
	"github.com/alanyoungcy/marketengine/internal/resolution"
)

func (e *Engine) onMarket(ctx context.Context, mkt common.Address, op string, fn func(m *market.Market) error) error {
	return e.exec(ctx, mkt, op, func() error {
		m, err := e.factory.GetMarket(mkt)
		if err != nil {
			return err
		}
		return fn(m)
	})
}

// --- collaborators ---

func (e *Engine) GrantRole(ctx context.Context, caller common.Address, role domain.Role, principal common.Address) error {
	return e.exec(ctx, common.Address{}, "grant_role", func() error {
		return e.gate.GrantRole(caller, role, principal)
	})
}

func (e *Engine) RevokeRole(ctx context.Context, caller common.Address, role domain.Role, principal common.Address) error {
	return e.exec(ctx, common.Address{}, "revoke_role", func() error {
		return e.gate.RevokeRole(caller, role, principal)
	})
}

func (e *Engine) SetParameter(ctx context.Context, caller common.Address, key string, value decimal.Decimal) error {
	return e.exec(ctx, common.Address{}, "set_parameter", func() error {
		return e.params.SetParameter(caller, key, value)
	})
}

func (e *Engine) SetBoolParameter(ctx context.Context, caller common.Address, key string, value bool) error {
	return e.exec(ctx, common.Address{}, "set_bool_parameter", func() error {
		return e.params.SetBoolParameter(caller, key, value)
	})
}

// --- factory ---

// CreateMarket creates a market and returns its view.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, cfg domain.MarketConfig, bond decimal.Decimal) (domain.MarketView, error) {
	var view domain.MarketView
	err := e.exec(ctx, common.Address{}, "create_market", func() error {
		m, err := e.factory.CreateMarket(caller, cfg, bond)
		if err != nil {
			return err
		}
		view = m.View()
		return nil
	})
	return view, err
}

func (e *Engine) ApproveMarket(ctx context.Context, caller, mkt common.Address) error {
	return e.exec(ctx, mkt, "approve_market", func() error {
		return e.factory.AdminApproveMarket(caller, mkt)
	})
}

func (e *Engine) RejectMarket(ctx context.Context, caller, mkt common.Address, reason string) error {
	return e.exec(ctx, mkt, "reject_market", func() error {
		return e.factory.AdminRejectMarket(ctx, caller, mkt, reason)
	})
}

func (e *Engine) ActivateMarket(ctx context.Context, caller, mkt common.Address) error {
	return e.exec(ctx, mkt, "activate_market", func() error {
		return e.factory.ActivateMarket(caller, mkt)
	})
}

func (e *Engine) RefundCreatorBond(ctx context.Context, caller, mkt common.Address, reason string) error {
	return e.exec(ctx, mkt, "refund_creator_bond", func() error {
		return e.factory.RefundCreatorBond(ctx, caller, mkt, reason)
	})
}

func (e *Engine) SetDefaultCurve(ctx context.Context, caller common.Address, kind domain.PricingKind) error {
	return e.exec(ctx, common.Address{}, "set_default_curve", func() error {
		return e.factory.SetDefaultCurve(caller, kind)
	})
}

func (e *Engine) SetTemplate(ctx context.Context, caller common.Address, version uint64) error {
	return e.exec(ctx, common.Address{}, "set_template", func() error {
		if err := e.factory.SetTemplate(caller, version); err != nil {
			return err
		}
		return e.registry.SetContract(caller, registry.KeyMarketTemplate, domain.ComponentAddress(registry.KeyMarketTemplate), version)
	})
}

func (e *Engine) PauseFactory(ctx context.Context, caller common.Address) error {
	return e.exec(ctx, common.Address{}, "pause_factory", func() error { return e.factory.Pause(caller) })
}

func (e *Engine) UnpauseFactory(ctx context.Context, caller common.Address) error {
	return e.exec(ctx, common.Address{}, "unpause_factory", func() error { return e.factory.Unpause(caller) })
}

// --- market ---

func (e *Engine) PlaceBet(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, minOdds int64, deadline time.Time, payment decimal.Decimal) (domain.BetReceipt, error) {
	var receipt domain.BetReceipt
	err := e.onMarket(ctx, mkt, "place_bet", func(m *market.Market) error {
		r, err := m.PlaceBet(caller, outcome, minOdds, deadline, payment)
		receipt = r
		return err
	})
	return receipt, err
}

// ClaimWinnings settles caller's payout. When the transfer fails the amount
// is parked as unclaimed and the reward claim is recorded only once a later
// WithdrawUnclaimed pays it.
func (e *Engine) ClaimWinnings(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var owed decimal.Decimal
	err := e.onMarket(ctx, mkt, "claim_winnings", func(m *market.Market) error {
		parked := m.UnclaimedWinnings(caller)
		amount, err := m.ClaimWinnings(ctx, caller)
		if err != nil {
			return err
		}
		owed = amount
		if m.UnclaimedWinnings(caller).Equal(parked) {
			e.recordReward(m, caller, amount)
		}
		return nil
	})
	return owed, err
}

func (e *Engine) WithdrawUnclaimed(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := e.onMarket(ctx, mkt, "withdraw_unclaimed", func(m *market.Market) error {
		amount, err := m.WithdrawUnclaimed(ctx, caller)
		if err != nil {
			return err
		}
		paid = amount
		e.recordReward(m, caller, amount)
		return nil
	})
	return paid, err
}

// recordReward mirrors a completed payout into the ledger's claim history.
func (e *Engine) recordReward(m *market.Market, claimer common.Address, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	err := e.ledger.ProcessRewardClaim(m.Address(), m.Address(), claimer, amount, m.Result())
	if err != nil && !errors.Is(err, domain.ErrAlreadyClaimed) {
		e.logger.Warn("engine: record reward claim failed",
			slog.String("market", m.Address().Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) WithdrawAccumulatedFees(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.onMarket(ctx, mkt, "withdraw_accumulated_fees", func(m *market.Market) error {
		amount, err := m.WithdrawAccumulatedFees(ctx, caller)
		out = amount
		return err
	})
	return out, err
}

func (e *Engine) EmergencyWithdraw(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.onMarket(ctx, mkt, "emergency_withdraw", func(m *market.Market) error {
		amount, err := m.EmergencyWithdraw(ctx, caller)
		out = amount
		return err
	})
	return out, err
}

// --- resolution ---

func (e *Engine) ProposeResolution(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, evidence string) error {
	return e.exec(ctx, mkt, "propose_resolution", func() error {
		return e.rm.ProposeResolution(caller, mkt, outcome, evidence)
	})
}

func (e *Engine) SubmitDisputeSignals(ctx context.Context, caller, mkt common.Address, agree, disagree uint64) error {
	return e.exec(ctx, mkt, "submit_dispute_signals", func() error {
		return e.rm.SubmitDisputeSignals(ctx, caller, mkt, agree, disagree)
	})
}

func (e *Engine) DisputeResolution(ctx context.Context, caller, mkt common.Address, reason string, bond decimal.Decimal) error {
	return e.exec(ctx, mkt, "dispute_resolution", func() error {
		return e.rm.DisputeResolution(caller, mkt, reason, bond)
	})
}

func (e *Engine) InvestigateDispute(ctx context.Context, caller, mkt common.Address, findings string) error {
	return e.exec(ctx, mkt, "investigate_dispute", func() error {
		return e.rm.InvestigateDispute(caller, mkt, findings)
	})
}

func (e *Engine) ResolveDispute(ctx context.Context, caller, mkt common.Address, upheld bool, outcome domain.Outcome) error {
	return e.exec(ctx, mkt, "resolve_dispute", func() error {
		return e.rm.ResolveDispute(ctx, caller, mkt, upheld, outcome)
	})
}

func (e *Engine) AdminResolveMarket(ctx context.Context, caller, mkt common.Address, outcome domain.Outcome, reason string) error {
	return e.exec(ctx, mkt, "admin_resolve_market", func() error {
		return e.rm.AdminResolveMarket(ctx, caller, mkt, outcome, reason)
	})
}

func (e *Engine) FinalizeResolution(ctx context.Context, caller, mkt common.Address) error {
	return e.exec(ctx, mkt, "finalize_resolution", func() error {
		return e.rm.FinalizeResolution(ctx, caller, mkt)
	})
}

// FinalizeExpired finalizes every resolution whose dispute window has closed
// without a dispute.
func (e *Engine) FinalizeExpired(ctx context.Context, caller common.Address) (resolution.BatchResult, error) {
	var res resolution.BatchResult
	err := e.exec(ctx, common.Address{}, "finalize_expired", func() error {
		expired := e.rm.Expired()
		if len(expired) == 0 {
			return nil
		}
		var err error
		res, err = e.rm.BatchFinalizeResolutions(ctx, caller, expired)
		return err
	})
	return res, err
}

func (e *Engine) WithdrawHeldBonds(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.exec(ctx, mkt, "withdraw_held_bonds", func() error {
		amount, err := e.rm.WithdrawHeldBonds(ctx, caller, mkt)
		out = amount
		return err
	})
	return out, err
}

// --- fees ---

func (e *Engine) ClaimCreatorFees(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := e.exec(ctx, mkt, "claim_creator_fees", func() error {
		amount, err := e.ledger.ClaimCreatorFees(ctx, caller, mkt)
		out = amount
		return err
	})
	return out, err
}

func (e *Engine) WithdrawTreasury(ctx context.Context, caller, to common.Address, amount decimal.Decimal) error {
	return e.exec(ctx, common.Address{}, "withdraw_treasury", func() error {
		return e.ledger.WithdrawTreasury(ctx, caller, to, amount)
	})
}

func (e *Engine) DistributeStakerRewards(ctx context.Context, caller, staker common.Address, amount decimal.Decimal) error {
	return e.exec(ctx, common.Address{}, "distribute_staker_rewards", func() error {
		return e.ledger.DistributeStakerRewards(ctx, caller, staker, amount)
	})
}
