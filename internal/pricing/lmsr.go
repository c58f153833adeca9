package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Search bounds for the shares-for-payment solver.
const (
	MaxSearchIterations = 128
	MaxSearchDoublings  = 64
	SearchTolerance     = 1e-9
)

// LMSR prices bets with the logarithmic market scoring rule
// C(q1,q2) = b*ln(e^(q1/b) + e^(q2/b)), seeded with virtual shares on both
// sides. Float math stays inside the curve; ledgers keep decimals.
type LMSR struct {
	b       float64
	virtual float64
	spec    Spec
}

// NewLMSR builds a curve with liquidity b and the given virtual seed.
func NewLMSR(liquidity, virtualShares decimal.Decimal) (*LMSR, error) {
	if !liquidity.IsPositive() || virtualShares.IsNegative() {
		return nil, fmt.Errorf("pricing: lmsr b=%s virtual=%s: %w", liquidity, virtualShares, domain.ErrInvalidValue)
	}
	return &LMSR{
		b:       liquidity.InexactFloat64(),
		virtual: virtualShares.InexactFloat64(),
		spec:    Spec{Kind: domain.PricingLMSR, Liquidity: liquidity, VirtualShares: virtualShares},
	}, nil
}

func (l *LMSR) Kind() domain.PricingKind { return domain.PricingLMSR }

func (l *LMSR) Spec() Spec { return l.spec }

func (l *LMSR) AllowsOutcomeSwitch() bool { return false }

// cost evaluates C at real share quantities q1, q2 using log-sum-exp.
func (l *LMSR) cost(q1, q2 float64) float64 {
	a := (q1 + l.virtual) / l.b
	c := (q2 + l.virtual) / l.b
	m := math.Max(a, c)
	return l.b * (m + math.Log(math.Exp(a-m)+math.Exp(c-m)))
}

func (l *LMSR) quantities(s PoolState) (float64, float64) {
	return s.Shares1.InexactFloat64(), s.Shares2.InexactFloat64()
}

// costToBuy is C(q + x on o) - C(q).
func (l *LMSR) costToBuy(q1, q2 float64, o domain.Outcome, x float64) float64 {
	base := l.cost(q1, q2)
	if o == domain.Outcome1 {
		return l.cost(q1+x, q2) - base
	}
	return l.cost(q1, q2+x) - base
}

// CostOf returns what buying shares of o costs from state s.
func (l *LMSR) CostOf(s PoolState, o domain.Outcome, shares decimal.Decimal) decimal.Decimal {
	q1, q2 := l.quantities(s)
	return decimal.NewFromFloat(l.costToBuy(q1, q2, o, shares.InexactFloat64()))
}

// Quote solves costToBuy(x) = amount by bisection. The returned share count
// never costs more than amount.
func (l *LMSR) Quote(s PoolState, o domain.Outcome, amount decimal.Decimal) (decimal.Decimal, error) {
	if !o.Bettable() {
		return decimal.Zero, domain.ErrInvalidOutcome
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	q1, q2 := l.quantities(s)
	target := amount.InexactFloat64()

	// Marginal price is below 1, so amount always buys at least amount shares.
	lo, hi := 0.0, target*2
	for i := 0; l.costToBuy(q1, q2, o, hi) < target; i++ {
		if i >= MaxSearchDoublings {
			return decimal.Zero, fmt.Errorf("pricing: lmsr upper bound for %s: %w", amount, domain.ErrInvalidAmount)
		}
		lo = hi
		hi *= 2
	}
	tol := target * SearchTolerance
	for i := 0; i < MaxSearchIterations; i++ {
		mid := lo + (hi-lo)/2
		c := l.costToBuy(q1, q2, o, mid)
		if c <= target {
			lo = mid
			if target-c <= tol {
				break
			}
		} else {
			hi = mid
		}
	}
	shares := decimal.NewFromFloat(lo).Truncate(domain.TokenPrecision)
	if shares.IsNegative() {
		shares = decimal.Zero
	}
	return shares, nil
}

// Prices returns the marginal prices e^(qi/b)/sum for both outcomes.
func (l *LMSR) Prices(s PoolState) (float64, float64) {
	q1, q2 := l.quantities(s)
	a := (q1 + l.virtual) / l.b
	c := (q2 + l.virtual) / l.b
	m := math.Max(a, c)
	e1, e2 := math.Exp(a-m), math.Exp(c-m)
	return e1 / (e1 + e2), e2 / (e1 + e2)
}

// Odds returns 10000/price per outcome, clamped to [MinOddsBps, MaxOddsBps].
func (l *LMSR) Odds(s PoolState) (int64, int64) {
	if s.Shares1.IsZero() && s.Shares2.IsZero() {
		return EvenOddsBps, EvenOddsBps
	}
	p1, p2 := l.Prices(s)
	return priceToOdds(p1), priceToOdds(p2)
}

func priceToOdds(p float64) int64 {
	if p <= 0 {
		return MaxOddsBps
	}
	o := oddsScaleBps / p
	if o >= float64(MaxOddsBps) {
		return MaxOddsBps
	}
	return clampOdds(int64(o))
}
