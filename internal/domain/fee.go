package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FeeDistribution is the basis-point split applied to collected fees.
type FeeDistribution struct {
	ProtocolBps int64 `json:"protocol_fee_bps"`
	CreatorBps  int64 `json:"creator_fee_bps"`
	StakerBps   int64 `json:"staker_incentive_bps"`
	TreasuryBps int64 `json:"treasury_fee_bps"`
}

// Total is the sum of all bucket shares.
func (d FeeDistribution) Total() int64 {
	return d.ProtocolBps + d.CreatorBps + d.StakerBps + d.TreasuryBps
}

// FeeRecord is the cumulative per-market fee breakdown. The four buckets
// always sum exactly to TotalFees.
type FeeRecord struct {
	Market        common.Address  `json:"market"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	ProtocolFees  decimal.Decimal `json:"protocol_fees"`
	CreatorFees   decimal.Decimal `json:"creator_fees"`
	StakerFees    decimal.Decimal `json:"staker_fees"`
	TreasuryFees  decimal.Decimal `json:"treasury_fees"`
	LastCollected time.Time       `json:"last_collected"`
}

// RewardClaim records a processed reward claim for one (market, claimer).
type RewardClaim struct {
	Market    common.Address  `json:"market"`
	Claimer   common.Address  `json:"claimer"`
	Amount    decimal.Decimal `json:"amount"`
	Outcome   Outcome         `json:"outcome"`
	ClaimedAt time.Time       `json:"claimed_at"`
}

// LedgerBalances is the snapshot of the fee ledger's pooled balances.
type LedgerBalances struct {
	Treasury            decimal.Decimal `json:"treasury"`
	StakerPool          decimal.Decimal `json:"staker_pool"`
	Protocol            decimal.Decimal `json:"protocol"`
	TotalFeesCollected  decimal.Decimal `json:"total_fees_collected"`
	TotalRewardsClaimed decimal.Decimal `json:"total_rewards_claimed"`
}
