// Package pricing implements the share and odds arithmetic markets bind to:
// a parimutuel pool and an LMSR bonding curve.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Odds bounds in basis points. 10100 is a 1.01x floor.
const (
	MinOddsBps   int64 = 10100
	MaxOddsBps   int64 = 1_000_000
	EvenOddsBps  int64 = 20000
	oddsScaleBps       = 10000
)

// PoolState is the ledger view an engine prices against. Shares are real
// shares only; any virtual seed belongs to the engine.
type PoolState struct {
	Pool1   decimal.Decimal
	Pool2   decimal.Decimal
	Shares1 decimal.Decimal
	Shares2 decimal.Decimal
}

// Total is the sum of both outcome pools.
func (s PoolState) Total() decimal.Decimal { return s.Pool1.Add(s.Pool2) }

// Pool returns the stake pool for o.
func (s PoolState) Pool(o domain.Outcome) decimal.Decimal {
	if o == domain.Outcome1 {
		return s.Pool1
	}
	return s.Pool2
}

// Shares returns the real shares outstanding for o.
func (s PoolState) Shares(o domain.Outcome) decimal.Decimal {
	if o == domain.Outcome1 {
		return s.Shares1
	}
	return s.Shares2
}

// With returns s after a bet of amount buying shares on o.
func (s PoolState) With(o domain.Outcome, amount, shares decimal.Decimal) PoolState {
	if o == domain.Outcome1 {
		s.Pool1 = s.Pool1.Add(amount)
		s.Shares1 = s.Shares1.Add(shares)
	} else {
		s.Pool2 = s.Pool2.Add(amount)
		s.Shares2 = s.Shares2.Add(shares)
	}
	return s
}

// Spec identifies an engine and its bound parameters. A market stores its
// Spec at creation and rebuilds the same engine from it.
type Spec struct {
	Kind          domain.PricingKind `json:"kind"`
	Liquidity     decimal.Decimal    `json:"liquidity,omitempty"`
	VirtualShares decimal.Decimal    `json:"virtual_shares,omitempty"`
}

// Engine prices bets for one market.
type Engine interface {
	Kind() domain.PricingKind
	Spec() Spec
	// Quote returns the shares amount buys on o from state s.
	Quote(s PoolState, o domain.Outcome, amount decimal.Decimal) (decimal.Decimal, error)
	// Odds returns the implied decimal odds of both outcomes in bp.
	Odds(s PoolState) (odds1, odds2 int64)
	AllowsOutcomeSwitch() bool
}

// FromSpec builds the engine sp describes.
func FromSpec(sp Spec) (Engine, error) {
	switch sp.Kind {
	case domain.PricingParimutuel:
		return Parimutuel{}, nil
	case domain.PricingLMSR:
		return NewLMSR(sp.Liquidity, sp.VirtualShares)
	default:
		return nil, fmt.Errorf("pricing: unknown engine %q: %w", sp.Kind, domain.ErrInvalidValue)
	}
}

// Payout returns userShares/winningShares of distributable, truncated to
// token precision. It is zero when winningShares is zero.
func Payout(userShares, winningShares, distributable decimal.Decimal) decimal.Decimal {
	if !winningShares.IsPositive() || !userShares.IsPositive() {
		return decimal.Zero
	}
	return domain.MulDivDown(distributable, userShares, winningShares)
}

func clampOdds(bps int64) int64 {
	if bps < MinOddsBps {
		return MinOddsBps
	}
	if bps > MaxOddsBps {
		return MaxOddsBps
	}
	return bps
}
