package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketState is the lifecycle state of a market.
type MarketState uint8

const (
	StateProposed MarketState = iota
	StateApproved
	StateActive
	StateResolving
	StateDisputed
	StateFinalized
)

var marketStateNames = [...]string{
	StateProposed:  "PROPOSED",
	StateApproved:  "APPROVED",
	StateActive:    "ACTIVE",
	StateResolving: "RESOLVING",
	StateDisputed:  "DISPUTED",
	StateFinalized: "FINALIZED",
}

func (s MarketState) String() string {
	if int(s) < len(marketStateNames) {
		return marketStateNames[s]
	}
	return fmt.Sprintf("MarketState(%d)", s)
}

// MarshalText renders the state name in JSON payloads and event data.
func (s MarketState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *MarketState) UnmarshalText(text []byte) error {
	for i, name := range marketStateNames {
		if name == string(text) {
			*s = MarketState(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown market state %q", text)
}

// Outcome identifies a market result. Bets are only ever placed on Outcome1
// or Outcome2; Cancelled is a resolution-only sentinel.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	Outcome1
	Outcome2
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case Outcome1:
		return "OUTCOME1"
	case Outcome2:
		return "OUTCOME2"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// Bettable reports whether a bet can be placed on o.
func (o Outcome) Bettable() bool {
	return o == Outcome1 || o == Outcome2
}

// Resolvable reports whether a resolution may declare o.
func (o Outcome) Resolvable() bool {
	return o.Bettable() || o == OutcomeCancelled
}

// Other returns the opposite bettable outcome.
func (o Outcome) Other() Outcome {
	if o == Outcome1 {
		return Outcome2
	}
	return Outcome1
}

// PricingKind names the algorithm a market is bound to.
type PricingKind string

const (
	PricingParimutuel PricingKind = "parimutuel"
	PricingLMSR       PricingKind = "lmsr"
)

// MarketConfig is the creator-supplied configuration for a new market.
type MarketConfig struct {
	Question       string          `json:"question"`
	Description    string          `json:"description"`
	ResolutionTime time.Time       `json:"resolution_time"`
	CreatorBond    decimal.Decimal `json:"creator_bond"`
	Category       string          `json:"category"`
	Outcome1       string          `json:"outcome1"`
	Outcome2       string          `json:"outcome2"`
}

// Approval tracks the admin gate a market passes through before activation.
type Approval struct {
	Approved   bool      `json:"approved"`
	Rejected   bool      `json:"rejected"`
	Reason     string    `json:"reason,omitempty"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	DecidedAt  time.Time `json:"decided_at,omitempty"`
	BondRefund bool      `json:"bond_refunded"`
}

// MarketView is a point-in-time read model of a market. It is what stores,
// caches, and API responses carry; the live Market owns the authoritative
// ledger.
type MarketView struct {
	Address         common.Address  `json:"address"`
	Question        string          `json:"question"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Outcome1        string          `json:"outcome1"`
	Outcome2        string          `json:"outcome2"`
	Creator         common.Address  `json:"creator"`
	ResolutionTime  time.Time       `json:"resolution_time"`
	State           MarketState     `json:"state"`
	Result          Outcome         `json:"result"`
	Rejected        bool            `json:"rejected"`
	Pricing         PricingKind     `json:"pricing"`
	TemplateVersion uint64          `json:"template_version"`
	Pool1           decimal.Decimal `json:"pool1"`
	Pool2           decimal.Decimal `json:"pool2"`
	TotalPool       decimal.Decimal `json:"total_pool"`
	Shares1         decimal.Decimal `json:"shares1"`
	Shares2         decimal.Decimal `json:"shares2"`
	Odds1           int64           `json:"odds1_bps"`
	Odds2           int64           `json:"odds2_bps"`
	FeesCollected   decimal.Decimal `json:"fees_collected"`
	AccumulatedFees decimal.Decimal `json:"accumulated_fees"`
	BettorCount     int             `json:"bettor_count"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}
