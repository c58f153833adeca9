package params

import (
	"github.com/shopspring/decimal"
)

// Numeric keys.
const (
	KeyPlatformFeePercent     = "platformFeePercent"
	KeyProtocolFeeBps         = "protocolFeeBps"
	KeyCreatorFeeBps          = "creatorFeeBps"
	KeyStakerIncentiveBps     = "stakerIncentiveBps"
	KeyTreasuryFeeBps         = "treasuryFeeBps"
	KeyMinimumBet             = "minimumBet"
	KeyMaxBetPercent          = "maxBetPercent"
	KeyMinCreatorBond         = "minCreatorBond"
	KeyMaxResolutionHorizon   = "maxResolutionHorizon"
	KeyDisputeWindow          = "disputeWindow"
	KeyMinDisputeBond         = "minDisputeBond"
	KeyAgreementThreshold     = "agreementThreshold"
	KeyDisagreementThreshold  = "disagreementThreshold"
	KeyEmergencyWithdrawDelay = "emergencyWithdrawDelay"
	KeyLMSRLiquidity          = "lmsrLiquidity"
	KeyLMSRVirtualShares      = "lmsrVirtualShares"
)

// Bool keys.
const (
	KeyRefundBondOnReject = "refundBondOnReject"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// defaultNumeric seeds every store. Durations are in seconds.
var defaultNumeric = map[string]decimal.Decimal{
	KeyPlatformFeePercent:     d("500"),
	KeyProtocolFeeBps:         d("250"),
	KeyCreatorFeeBps:          d("150"),
	KeyStakerIncentiveBps:     d("50"),
	KeyTreasuryFeeBps:         d("50"),
	KeyMinimumBet:             d("0.001"),
	KeyMaxBetPercent:          d("20"),
	KeyMinCreatorBond:         d("0.1"),
	KeyMaxResolutionHorizon:   d("63072000"),
	KeyDisputeWindow:          d("172800"),
	KeyMinDisputeBond:         d("0.1"),
	KeyAgreementThreshold:     d("75"),
	KeyDisagreementThreshold:  d("40"),
	KeyEmergencyWithdrawDelay: d("7776000"),
	KeyLMSRLiquidity:          d("100"),
	KeyLMSRVirtualShares:      d("100"),
}

var defaultBool = map[string]bool{
	KeyRefundBondOnReject: false,
}

// Guardrail bounds a numeric parameter. A nil bound is open.
type Guardrail struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`
}

func bound(lo, hi string) Guardrail {
	g := Guardrail{}
	if lo != "" {
		v := d(lo)
		g.Min = &v
	}
	if hi != "" {
		v := d(hi)
		g.Max = &v
	}
	return g
}

var defaultGuardrails = map[string]Guardrail{
	KeyPlatformFeePercent:    bound("0", "1000"),
	KeyMaxBetPercent:         bound("1", "100"),
	KeyAgreementThreshold:    bound("51", "100"),
	KeyDisagreementThreshold: bound("1", "49"),
	KeyLMSRLiquidity:         bound("1", ""),
}
