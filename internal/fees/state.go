package fees

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// State is the serializable ledger.
type State struct {
	Treasury            decimal.Decimal                    `json:"treasury"`
	StakerPool          decimal.Decimal                    `json:"staker_pool"`
	Protocol            decimal.Decimal                    `json:"protocol"`
	TotalFeesCollected  decimal.Decimal                    `json:"total_fees_collected"`
	TotalRewardsClaimed decimal.Decimal                    `json:"total_rewards_claimed"`
	Records             []domain.FeeRecord                 `json:"records"`
	UnclaimedCreator    map[common.Address]decimal.Decimal `json:"unclaimed_creator"`
	Claims              []domain.RewardClaim               `json:"claims"`
}

// Export captures the ledger.
func (l *Ledger) Export() State {
	st := State{
		Treasury:            l.treasury,
		StakerPool:          l.stakerPool,
		Protocol:            l.protocol,
		TotalFeesCollected:  l.totalFeesCollected,
		TotalRewardsClaimed: l.totalRewardsClaimed,
		UnclaimedCreator:    make(map[common.Address]decimal.Decimal, len(l.unclaimedCreator)),
	}
	for _, r := range l.records {
		st.Records = append(st.Records, *r)
	}
	for m, v := range l.unclaimedCreator {
		st.UnclaimedCreator[m] = v
	}
	for _, byClaimer := range l.claims {
		for _, c := range byClaimer {
			st.Claims = append(st.Claims, c)
		}
	}
	return st
}

// Restore replaces the ledger contents with st. Per-claimer totals are
// rebuilt from the claims.
func (l *Ledger) Restore(st State) {
	l.treasury = st.Treasury
	l.stakerPool = st.StakerPool
	l.protocol = st.Protocol
	l.totalFeesCollected = st.TotalFeesCollected
	l.totalRewardsClaimed = st.TotalRewardsClaimed
	l.records = make(map[common.Address]*domain.FeeRecord, len(st.Records))
	for i := range st.Records {
		r := st.Records[i]
		l.records[r.Market] = &r
	}
	l.unclaimedCreator = make(map[common.Address]decimal.Decimal, len(st.UnclaimedCreator))
	for m, v := range st.UnclaimedCreator {
		l.unclaimedCreator[m] = v
	}
	l.claims = make(map[common.Address]map[common.Address]domain.RewardClaim)
	l.claimerTotals = make(map[common.Address]decimal.Decimal)
	for _, c := range st.Claims {
		if l.claims[c.Market] == nil {
			l.claims[c.Market] = make(map[common.Address]domain.RewardClaim)
		}
		l.claims[c.Market][c.Claimer] = c
		l.claimerTotals[c.Claimer] = l.claimerTotals[c.Claimer].Add(c.Amount)
	}
}
