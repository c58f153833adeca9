package domain

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ClassifiesWrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{ErrBetTooSmall, KindValidation},
		{fmt.Errorf("market: %w", ErrOnlyFactory), KindAuthorization},
		{ErrMarketNotActive, KindState},
		{ErrSlippageTooHigh, KindEconomic},
		{ErrMarketNotFound, KindNotFound},
		{ErrTransferFailed, KindInternal},
		{fmt.Errorf("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), tc.err.Error())
	}
}

func TestError_MessagesMatchRevertStrings(t *testing.T) {
	assert.Equal(t, "Only admin", ErrOnlyAdmin.Error())
	assert.Equal(t, "Market not resolved", ErrMarketNotResolved.Error())
	assert.Equal(t, "Too early for emergency withdrawal", ErrTooEarlyForEmergency.Error())
	assert.Equal(t, "Invalid threshold", ErrInvalidThreshold.Error())
}

// --- amounts ---

func TestMulDivDown_Truncates(t *testing.T) {
	got := MulDivDown(decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.NewFromInt(3))
	assert.Equal(t, "0.333333333333333333", got.String())
}

func TestBps_FivePercent(t *testing.T) {
	got := Bps(decimal.NewFromInt(2), 500)
	assert.True(t, got.Equal(decimal.RequireFromString("0.1")), got.String())
}

func TestComponentAddress_Deterministic(t *testing.T) {
	a := ComponentAddress("ResolutionManager")
	b := ComponentAddress("ResolutionManager")
	c := ComponentAddress("RewardDistributor")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// --- enums ---

func TestMarketState_TextRoundTrip(t *testing.T) {
	for s := StateProposed; s <= StateFinalized; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back MarketState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var bad MarketState
	assert.Error(t, bad.UnmarshalText([]byte("OPEN")))
}

func TestOutcome_Predicates(t *testing.T) {
	assert.True(t, Outcome1.Bettable())
	assert.False(t, OutcomeCancelled.Bettable())
	assert.True(t, OutcomeCancelled.Resolvable())
	assert.False(t, OutcomeNone.Resolvable())
	assert.Equal(t, Outcome2, Outcome1.Other())
}

func TestEventBuffer_DrainClears(t *testing.T) {
	var b EventBuffer
	b.Emit(Event{Type: EventBetPlaced})
	b.Emit(Event{Type: EventFeeCollectionFailed})
	assert.Equal(t, 1, b.Count(EventBetPlaced))
	last, ok := b.Last(EventFeeCollectionFailed)
	require.True(t, ok)
	assert.True(t, last.Resilience())
	assert.Len(t, b.Drain(), 2)
	assert.Empty(t, b.Events())
}
