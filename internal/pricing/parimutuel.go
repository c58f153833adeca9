package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Parimutuel splits the pool among winners in proportion to stake. One
// share is one unit of stake.
type Parimutuel struct{}

func (Parimutuel) Kind() domain.PricingKind { return domain.PricingParimutuel }

func (Parimutuel) Spec() Spec { return Spec{Kind: domain.PricingParimutuel} }

func (Parimutuel) AllowsOutcomeSwitch() bool { return true }

func (Parimutuel) Quote(_ PoolState, o domain.Outcome, amount decimal.Decimal) (decimal.Decimal, error) {
	if !o.Bettable() {
		return decimal.Zero, domain.ErrInvalidOutcome
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return amount, nil
}

// Odds is totalPool*10000/outcomePool. An empty market quotes even odds and
// an outcome nobody has backed quotes MaxOddsBps.
func (Parimutuel) Odds(s PoolState) (int64, int64) {
	total := s.Total()
	if total.IsZero() {
		return EvenOddsBps, EvenOddsBps
	}
	return parimutuelOdds(total, s.Pool1), parimutuelOdds(total, s.Pool2)
}

func parimutuelOdds(total, pool decimal.Decimal) int64 {
	if !pool.IsPositive() {
		return MaxOddsBps
	}
	bps := total.Mul(decimal.NewFromInt(oddsScaleBps)).Div(pool).IntPart()
	if bps > MaxOddsBps {
		return MaxOddsBps
	}
	return bps
}
