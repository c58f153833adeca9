package fees

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func (l *Ledger) checkReward(mkt, claimer common.Address, amount decimal.Decimal) error {
	if mkt == (common.Address{}) || claimer == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if !amount.IsPositive() {
		return domain.ErrNoRewardsToClaim
	}
	if _, done := l.claims[mkt][claimer]; done {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

func (l *Ledger) mayProcess(caller, mkt common.Address) bool {
	return caller == mkt || (l.deps.Access != nil && l.deps.Access.HasRole(domain.RoleBackend, caller))
}

// ProcessRewardClaim records that claimer received amount from mkt. Each
// (market, claimer) pair is recorded at most once. The caller must hold
// BACKEND or be the market itself.
func (l *Ledger) ProcessRewardClaim(caller, mkt, claimer common.Address, amount decimal.Decimal, outcome domain.Outcome) error {
	if !l.mayProcess(caller, mkt) {
		return domain.ErrUnauthorized
	}
	if err := l.checkReward(mkt, claimer, amount); err != nil {
		return err
	}
	l.recordClaim(caller, mkt, claimer, amount, outcome)
	return nil
}

// BatchProcessRewards records several claims. Every item is validated,
// including duplicates inside the batch, before any is recorded.
func (l *Ledger) BatchProcessRewards(caller common.Address, markets, claimers []common.Address, amounts []decimal.Decimal, outcomes []domain.Outcome) error {
	if len(markets) != len(claimers) || len(markets) != len(amounts) || len(markets) != len(outcomes) {
		return domain.ErrArrayLengthMismatch
	}
	type pair struct{ m, c common.Address }
	seen := make(map[pair]bool, len(markets))
	for i := range markets {
		if !l.mayProcess(caller, markets[i]) {
			return fmt.Errorf("fees: item %d: %w", i, domain.ErrUnauthorized)
		}
		if err := l.checkReward(markets[i], claimers[i], amounts[i]); err != nil {
			return fmt.Errorf("fees: item %d: %w", i, err)
		}
		p := pair{markets[i], claimers[i]}
		if seen[p] {
			return fmt.Errorf("fees: item %d: %w", i, domain.ErrAlreadyClaimed)
		}
		seen[p] = true
	}
	for i := range markets {
		l.recordClaim(caller, markets[i], claimers[i], amounts[i], outcomes[i])
	}
	return nil
}

func (l *Ledger) recordClaim(caller, mkt, claimer common.Address, amount decimal.Decimal, outcome domain.Outcome) {
	byClaimer, ok := l.claims[mkt]
	if !ok {
		byClaimer = make(map[common.Address]domain.RewardClaim)
		l.claims[mkt] = byClaimer
	}
	byClaimer[claimer] = domain.RewardClaim{
		Market:    mkt,
		Claimer:   claimer,
		Amount:    amount,
		Outcome:   outcome,
		ClaimedAt: l.deps.Clock(),
	}
	l.claimerTotals[claimer] = l.claimerTotals[claimer].Add(amount)
	l.totalRewardsClaimed = l.totalRewardsClaimed.Add(amount)
	l.emit(domain.EventRewardClaimed, mkt, caller, map[string]any{
		"claimer": claimer.Hex(),
		"amount":  amount.String(),
		"outcome": outcome.String(),
	})
}

// HasClaimed reports whether a reward claim was recorded for the pair.
func (l *Ledger) HasClaimed(mkt, claimer common.Address) bool {
	_, ok := l.claims[mkt][claimer]
	return ok
}

// ClaimOf returns the recorded claim for the pair.
func (l *Ledger) ClaimOf(mkt, claimer common.Address) (domain.RewardClaim, bool) {
	c, ok := l.claims[mkt][claimer]
	return c, ok
}

// TotalRewardsClaimed returns the running total for claimer.
func (l *Ledger) TotalRewardsClaimed(claimer common.Address) decimal.Decimal {
	return l.claimerTotals[claimer]
}
