package params

import (
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/access"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newStore(events domain.EventSink) *Store {
	return New(access.New(admin, nil, nil), events, nil)
}

func TestStore_DefaultSnapshot(t *testing.T) {
	eff := newStore(nil).Snapshot()
	assert.Equal(t, int64(500), eff.PlatformFeeBps)
	assert.Equal(t, domain.FeeDistribution{ProtocolBps: 250, CreatorBps: 150, StakerBps: 50, TreasuryBps: 50}, eff.Distribution)
	assert.True(t, eff.MinimumBet.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, int64(20), eff.MaxBetPercent)
	assert.Equal(t, 48*time.Hour, eff.DisputeWindow)
	assert.Equal(t, 90*24*time.Hour, eff.EmergencyWithdrawDelay)
	assert.Equal(t, 2*365*24*time.Hour, eff.MaxResolutionHorizon)
	assert.Equal(t, int64(75), eff.AgreementThreshold)
	assert.Equal(t, int64(40), eff.DisagreementThreshold)
	assert.Equal(t, Defaults(), eff)
}

func TestStore_SetParameterAdminOnly(t *testing.T) {
	s := newStore(nil)
	err := s.SetParameter(stranger, KeyMinimumBet, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestStore_Guardrails(t *testing.T) {
	var events domain.EventBuffer
	s := newStore(&events)

	assert.ErrorIs(t, s.SetParameter(admin, KeyPlatformFeePercent, decimal.NewFromInt(5000)), domain.ErrValueAboveMaximum)
	assert.ErrorIs(t, s.SetParameter(admin, KeyMaxBetPercent, decimal.Zero), domain.ErrValueBelowMinimum)

	require.NoError(t, s.SetExperimentalMode(admin, true))
	require.NoError(t, s.SetParameter(admin, KeyPlatformFeePercent, decimal.NewFromInt(5000)))
	assert.Equal(t, int64(5000), s.Snapshot().PlatformFeeBps)
	assert.Equal(t, 1, events.Count(domain.EventExperimentalModeToggled))
	assert.Equal(t, 1, events.Count(domain.EventParameterUpdated))
}

func TestStore_SetGuardrails(t *testing.T) {
	s := newStore(nil)
	lo, hi := decimal.NewFromInt(10), decimal.NewFromInt(5)
	assert.ErrorIs(t, s.SetGuardrails(admin, KeyMinimumBet, &lo, &hi), domain.ErrInvalidValue)

	lo = decimal.RequireFromString("0.01")
	require.NoError(t, s.SetGuardrails(admin, KeyMinimumBet, &lo, nil))
	assert.ErrorIs(t, s.SetParameter(admin, KeyMinimumBet, decimal.RequireFromString("0.001")), domain.ErrValueBelowMinimum)
}

func TestStore_BatchSetIsAllOrNothing(t *testing.T) {
	s := newStore(nil)
	err := s.BatchSetParameters(admin, []string{KeyMinimumBet}, nil)
	assert.ErrorIs(t, err, domain.ErrArrayLengthMismatch)

	err = s.BatchSetParameters(admin,
		[]string{KeyMinimumBet, KeyPlatformFeePercent},
		[]decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(9999)})
	assert.ErrorIs(t, err, domain.ErrValueAboveMaximum)
	v, err := s.GetParameter(KeyMinimumBet)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("0.001")))
}

func TestStore_TypedParameters(t *testing.T) {
	s := newStore(nil)
	_, err := s.GetParameter("missing")
	assert.ErrorIs(t, err, domain.ErrParameterNotFound)

	require.NoError(t, s.SetBoolParameter(admin, KeyRefundBondOnReject, true))
	assert.True(t, s.GetBoolParameter(KeyRefundBondOnReject))
	assert.True(t, s.Snapshot().RefundBondOnReject)

	assert.ErrorIs(t, s.SetAddressParameter(admin, "treasury", common.Address{}), domain.ErrInvalidValue)
	require.NoError(t, s.SetAddressParameter(admin, "treasury", stranger))
	got, err := s.GetAddressParameter("treasury")
	require.NoError(t, err)
	assert.Equal(t, stranger, got)
	assert.True(t, s.ParameterExists("treasury"))
	assert.Equal(t, len(defaultNumeric), s.ParameterCount())
	assert.Contains(t, s.Keys(), KeyDisputeWindow)
}

func TestStore_ExportRestore(t *testing.T) {
	s := newStore(nil)
	require.NoError(t, s.SetParameter(admin, KeyDisputeWindow, decimal.NewFromInt(3600)))
	other := newStore(nil)
	other.Restore(s.Export())
	assert.Equal(t, time.Hour, other.Snapshot().DisputeWindow)
}

func TestStore_DurationsClampToMaxDuration(t *testing.T) {
	s := newStore(nil)
	huge := decimal.RequireFromString("18446744073709551615")
	require.NoError(t, s.SetParameter(admin, KeyDisputeWindow, huge))
	require.NoError(t, s.SetParameter(admin, KeyEmergencyWithdrawDelay, decimal.NewFromInt(math.MaxInt64)))

	eff := s.Snapshot()
	longest := time.Duration(math.MaxInt64/int64(time.Second)) * time.Second
	assert.Equal(t, longest, eff.DisputeWindow)
	assert.Equal(t, longest, eff.EmergencyWithdrawDelay)
	assert.Positive(t, eff.DisputeWindow)
}
