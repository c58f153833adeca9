package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ResolutionStatus is the status of a resolution record.
type ResolutionStatus uint8

const (
	ResolutionPending ResolutionStatus = iota
	ResolutionDisputed
	ResolutionFinalized
)

func (s ResolutionStatus) String() string {
	switch s {
	case ResolutionPending:
		return "PENDING"
	case ResolutionDisputed:
		return "DISPUTED"
	case ResolutionFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON.
func (s ResolutionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *ResolutionStatus) UnmarshalText(text []byte) error {
	for _, c := range []ResolutionStatus{ResolutionPending, ResolutionDisputed, ResolutionFinalized} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("domain: unknown resolution status %q", text)
}

// ResolutionRecord is the settlement record a ResolutionManager keeps per
// market. At most one non-finalized record exists per market.
type ResolutionRecord struct {
	Market           common.Address   `json:"market"`
	ProposedOutcome  Outcome          `json:"proposed_outcome"`
	Proposer         common.Address   `json:"proposer"`
	Evidence         string           `json:"evidence"`
	ProposedAt       time.Time        `json:"proposed_at"`
	DisputeWindowEnd time.Time        `json:"dispute_window_end"`
	AgreeSignals     uint64           `json:"agree_signals"`
	DisagreeSignals  uint64           `json:"disagree_signals"`
	CommunityActive  bool             `json:"community_active"`
	AutoFinalized    bool             `json:"auto_finalized"`
	Disputed         bool             `json:"disputed"`
	Disputer         common.Address   `json:"disputer,omitempty"`
	DisputeBond      decimal.Decimal  `json:"dispute_bond"`
	DisputeReason    string           `json:"dispute_reason,omitempty"`
	Findings         string           `json:"findings,omitempty"`
	FinalOutcome     Outcome          `json:"final_outcome"`
	Status           ResolutionStatus `json:"status"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// DisputeOpen reports whether an explicit bonded dispute is awaiting
// arbitration.
func (r ResolutionRecord) DisputeOpen() bool {
	return r.Disputed && r.Status != ResolutionFinalized && r.DisputeBond.IsPositive()
}
