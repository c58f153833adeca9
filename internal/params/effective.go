package params

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Effective is an immutable snapshot of the parameters engine operations
// read. Operations take one snapshot at the top and use it throughout.
type Effective struct {
	PlatformFeeBps         int64
	Distribution           domain.FeeDistribution
	MinimumBet             decimal.Decimal
	MaxBetPercent          int64
	MinCreatorBond         decimal.Decimal
	MaxResolutionHorizon   time.Duration
	DisputeWindow          time.Duration
	MinDisputeBond         decimal.Decimal
	AgreementThreshold     int64
	DisagreementThreshold  int64
	EmergencyWithdrawDelay time.Duration
	LMSRLiquidity          decimal.Decimal
	LMSRVirtualShares      decimal.Decimal
	RefundBondOnReject     bool
}

// Source yields parameter snapshots.
type Source interface {
	Snapshot() Effective
}

// Static is a fixed Source.
type Static Effective

// Snapshot returns s.
func (s Static) Snapshot() Effective { return Effective(s) }

// Defaults returns the snapshot of a freshly constructed store.
func Defaults() Effective {
	return effective(defaultNumeric, defaultBool)
}

// maxSeconds is the longest span a time.Duration holds, in whole seconds.
var maxSeconds = decimal.NewFromInt(math.MaxInt64 / int64(time.Second))

func effective(num map[string]decimal.Decimal, bools map[string]bool) Effective {
	i := func(k string) int64 { return num[k].IntPart() }
	secs := func(k string) time.Duration {
		v := num[k]
		if v.GreaterThan(maxSeconds) {
			return time.Duration(maxSeconds.IntPart()) * time.Second
		}
		if v.IsNegative() {
			return 0
		}
		return time.Duration(v.IntPart()) * time.Second
	}
	return Effective{
		PlatformFeeBps: i(KeyPlatformFeePercent),
		Distribution: domain.FeeDistribution{
			ProtocolBps: i(KeyProtocolFeeBps),
			CreatorBps:  i(KeyCreatorFeeBps),
			StakerBps:   i(KeyStakerIncentiveBps),
			TreasuryBps: i(KeyTreasuryFeeBps),
		},
		MinimumBet:             num[KeyMinimumBet],
		MaxBetPercent:          i(KeyMaxBetPercent),
		MinCreatorBond:         num[KeyMinCreatorBond],
		MaxResolutionHorizon:   secs(KeyMaxResolutionHorizon),
		DisputeWindow:          secs(KeyDisputeWindow),
		MinDisputeBond:         num[KeyMinDisputeBond],
		AgreementThreshold:     i(KeyAgreementThreshold),
		DisagreementThreshold:  i(KeyDisagreementThreshold),
		EmergencyWithdrawDelay: secs(KeyEmergencyWithdrawDelay),
		LMSRLiquidity:          num[KeyLMSRLiquidity],
		LMSRVirtualShares:      num[KeyLMSRVirtualShares],
		RefundBondOnReject:     bools[KeyRefundBondOnReject],
	}
}
