package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Bet is a single accepted wager. Amounts for the same principal and outcome
// accumulate in the market ledger; each Bet is the record of one placement.
type Bet struct {
	Market    common.Address  `json:"market"`
	Principal common.Address  `json:"principal"`
	Outcome   Outcome         `json:"outcome"`
	Amount    decimal.Decimal `json:"amount"`
	Shares    decimal.Decimal `json:"shares"`
	Timestamp time.Time       `json:"timestamp"`
}

// BetReceipt is returned to the bettor after a successful placement.
type BetReceipt struct {
	Bet
	OddsAfter int64 `json:"odds_after_bps"`
}

// Position is a principal's accumulated stake in one market.
type Position struct {
	Principal common.Address  `json:"principal"`
	Stake1    decimal.Decimal `json:"stake1"`
	Stake2    decimal.Decimal `json:"stake2"`
	Shares1   decimal.Decimal `json:"shares1"`
	Shares2   decimal.Decimal `json:"shares2"`
	Claimed   bool            `json:"claimed"`
	Unclaimed decimal.Decimal `json:"unclaimed"`
}

// Stake returns the principal's stake on outcome o.
func (p Position) Stake(o Outcome) decimal.Decimal {
	switch o {
	case Outcome1:
		return p.Stake1
	case Outcome2:
		return p.Stake2
	default:
		return decimal.Zero
	}
}

// Shares returns the principal's shares on outcome o.
func (p Position) Shares(o Outcome) decimal.Decimal {
	switch o {
	case Outcome1:
		return p.Shares1
	case Outcome2:
		return p.Shares2
	default:
		return decimal.Zero
	}
}

// TotalStake is the sum of both outcome stakes.
func (p Position) TotalStake() decimal.Decimal {
	return p.Stake1.Add(p.Stake2)
}
