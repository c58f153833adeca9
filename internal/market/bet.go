package market

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PlaceBet records a bet of payment on outcome. minAcceptableOdds (bp) and
// deadline are optional bounds; zero disables each.
func (m *Market) PlaceBet(caller common.Address, outcome domain.Outcome, minAcceptableOdds int64, deadline time.Time, payment decimal.Decimal) (domain.BetReceipt, error) {
	eff := m.deps.Params.Snapshot()
	now := m.now()

	if m.state != domain.StateActive {
		return domain.BetReceipt{}, domain.ErrMarketNotActive
	}
	if caller == (common.Address{}) {
		return domain.BetReceipt{}, domain.ErrZeroAddress
	}
	if !outcome.Bettable() {
		return domain.BetReceipt{}, domain.ErrInvalidOutcome
	}
	if !deadline.IsZero() && now.After(deadline) {
		return domain.BetReceipt{}, domain.ErrDeadlineExpired
	}
	if payment.LessThan(eff.MinimumBet) || !payment.IsPositive() {
		return domain.BetReceipt{}, domain.ErrBetTooSmall
	}
	total := m.pool.Total()
	if m.engine.Kind() == domain.PricingParimutuel && total.IsPositive() {
		limit := total.Mul(decimal.NewFromInt(eff.MaxBetPercent)).Div(hundred)
		if payment.GreaterThan(limit) {
			return domain.BetReceipt{}, domain.ErrBetTooLarge
		}
	}
	pos := m.positions[caller]
	if pos != nil && !m.engine.AllowsOutcomeSwitch() && pos.Stake(outcome.Other()).IsPositive() {
		return domain.BetReceipt{}, domain.ErrCannotChangeBet
	}

	shares, err := m.engine.Quote(m.pool, outcome, payment)
	if err != nil {
		return domain.BetReceipt{}, err
	}
	next := m.pool.With(outcome, payment, shares)
	odds1, odds2 := m.engine.Odds(next)
	after := odds1
	if outcome == domain.Outcome2 {
		after = odds2
	}
	if minAcceptableOdds > 0 && after < minAcceptableOdds {
		return domain.BetReceipt{}, domain.ErrSlippageTooHigh
	}

	m.pool = next
	if pos == nil {
		pos = &domain.Position{Principal: caller}
		m.positions[caller] = pos
		m.bettors = append(m.bettors, caller)
	}
	if outcome == domain.Outcome1 {
		pos.Stake1 = pos.Stake1.Add(payment)
		pos.Shares1 = pos.Shares1.Add(shares)
	} else {
		pos.Stake2 = pos.Stake2.Add(payment)
		pos.Shares2 = pos.Shares2.Add(shares)
	}

	m.emit(domain.EventBetPlaced, caller, map[string]any{
		"outcome": int(outcome),
		"amount":  payment.String(),
		"shares":  shares.String(),
		"odds1":   odds1,
		"odds2":   odds2,
	})
	return domain.BetReceipt{
		Bet: domain.Bet{
			Market:    m.addr,
			Principal: caller,
			Outcome:   outcome,
			Amount:    payment,
			Shares:    shares,
			Timestamp: now,
		},
		OddsAfter: after,
	}, nil
}
