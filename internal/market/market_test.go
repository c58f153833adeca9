package market

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/pricing"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// --- state machine ---

func TestMarket_TransitionGuards(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)

	assert.ErrorIs(t, h.m.Approve(alice), domain.ErrOnlyFactory)
	assert.ErrorIs(t, h.m.Activate(factoryAddr), domain.ErrInvalidTransition)
	assert.ErrorIs(t, h.m.ProposeOutcome(alice, domain.Outcome1), domain.ErrOnlyResolutionManager)
	assert.ErrorIs(t, h.m.ProposeOutcome(rmAddr, domain.Outcome1), domain.ErrInvalidTransition)
	assert.ErrorIs(t, h.m.MarkDisputed(factoryAddr), domain.ErrOnlyResolutionManager)
	_, err := h.m.Finalize(context.Background(), rmAddr, domain.Outcome1)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	h.activate()
	assert.Equal(t, domain.StateActive, h.m.State())
	require.NoError(t, h.m.ProposeOutcome(rmAddr, domain.Outcome1))
	require.NoError(t, h.m.MarkDisputed(rmAddr))
	assert.Equal(t, domain.StateDisputed, h.m.State())

	assert.Equal(t, 4, h.events.Count(domain.EventMarketStateChanged))
	last, ok := h.events.Last(domain.EventMarketStateChanged)
	require.True(t, ok)
	assert.Equal(t, "DISPUTED", last.Data["state"])
	assert.Equal(t, h.now.Unix(), last.Data["timestamp"])
}

func TestMarket_ResolutionManagerFollowsRegistry(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	h.activate()
	next := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	require.NoError(t, h.reg.SetContract(admin, registry.KeyResolutionManager, next, 2))

	assert.ErrorIs(t, h.m.ProposeOutcome(rmAddr, domain.Outcome1), domain.ErrOnlyResolutionManager)
	require.NoError(t, h.m.ProposeOutcome(next, domain.Outcome1))
}

func TestMarket_Reject(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	require.NoError(t, h.m.Reject(factoryAddr, "duplicate"))
	assert.Equal(t, domain.StateFinalized, h.m.State())
	assert.Equal(t, domain.OutcomeCancelled, h.m.Result())
	assert.True(t, h.m.Rejected())
	assert.ErrorIs(t, h.m.Activate(factoryAddr), domain.ErrInvalidTransition)
}

// --- betting ---

func TestPlaceBet_OnlyWhileActive(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	try := func() error {
		_, err := h.m.PlaceBet(alice, domain.Outcome1, 0, time.Time{}, dec("1"))
		return err
	}
	assert.ErrorIs(t, try(), domain.ErrMarketNotActive)
	require.NoError(t, h.m.Approve(factoryAddr))
	assert.ErrorIs(t, try(), domain.ErrMarketNotActive)
	require.NoError(t, h.m.Activate(factoryAddr))
	require.NoError(t, try())
	require.NoError(t, h.m.ProposeOutcome(rmAddr, domain.Outcome1))
	assert.ErrorIs(t, try(), domain.ErrMarketNotActive)
	require.NoError(t, h.m.MarkDisputed(rmAddr))
	assert.ErrorIs(t, try(), domain.ErrMarketNotActive)
	_, err := h.m.Finalize(context.Background(), rmAddr, domain.Outcome1)
	require.NoError(t, err)
	assert.ErrorIs(t, try(), domain.ErrMarketNotActive)
}

func TestPlaceBet_Validation(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	h.activate()

	cases := []struct {
		name     string
		outcome  domain.Outcome
		deadline time.Time
		amount   string
		want     error
	}{
		{"cancelled outcome", domain.OutcomeCancelled, time.Time{}, "1", domain.ErrInvalidOutcome},
		{"none outcome", domain.OutcomeNone, time.Time{}, "1", domain.ErrInvalidOutcome},
		{"past deadline", domain.Outcome1, start.Add(-time.Second), "1", domain.ErrDeadlineExpired},
		{"dust", domain.Outcome1, time.Time{}, "0.0009", domain.ErrBetTooSmall},
		{"zero", domain.Outcome1, time.Time{}, "0", domain.ErrBetTooSmall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.m.PlaceBet(alice, tc.outcome, 0, tc.deadline, dec(tc.amount))
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, h.m.TotalPool().IsZero())
	assert.Zero(t, h.events.Count(domain.EventBetPlaced))
}

func TestPlaceBet_WhaleCap(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	h.activate()

	h.bet(alice, domain.Outcome1, "100")

	_, err := h.m.PlaceBet(bob, domain.Outcome2, 0, time.Time{}, dec("20.000000000000000001"))
	assert.ErrorIs(t, err, domain.ErrBetTooLarge)
	_, err = h.m.PlaceBet(bob, domain.Outcome1, 0, time.Time{}, dec("21"))
	assert.ErrorIs(t, err, domain.ErrBetTooLarge)

	h.bet(bob, domain.Outcome2, "20")
	h.bet(bob, domain.Outcome2, "24")
	assert.True(t, h.m.TotalPool().Equal(dec("144")))
}

func TestPlaceBet_WhaleCapProperty(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	h.activate()
	rng := rand.New(rand.NewSource(7))
	bettors := []common.Address{alice, bob, carol}

	for i := 0; i < 200; i++ {
		before := h.m.TotalPool()
		amount := decimal.NewFromFloat(0.001 + rng.Float64()*50).Truncate(6)
		o := domain.Outcome(1 + rng.Intn(2))
		_, err := h.m.PlaceBet(bettors[rng.Intn(3)], o, 0, time.Time{}, amount)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrBetTooLarge)
			continue
		}
		if before.IsPositive() {
			assert.True(t, amount.LessThanOrEqual(before.Mul(dec("0.2"))), "bet %s pool %s", amount, before)
		}
		pool := h.m.Pool()
		assert.True(t, pool.Pool1.Add(pool.Pool2).Equal(h.m.TotalPool()))
	}
}

func TestPlaceBet_OutcomeSwitchPolicy(t *testing.T) {
	t.Run("parimutuel allows both", func(t *testing.T) {
		h := newHarness(t, domain.PricingParimutuel)
		h.params.MaxBetPercent = 100
		h.activate()
		h.bet(alice, domain.Outcome1, "1")
		h.bet(alice, domain.Outcome2, "0.5")
		pos := h.m.Position(alice)
		assert.True(t, pos.Stake1.Equal(dec("1")))
		assert.True(t, pos.Stake2.Equal(dec("0.5")))
	})
	t.Run("lmsr forbids switching", func(t *testing.T) {
		h := newHarness(t, domain.PricingLMSR)
		h.activate()
		h.bet(alice, domain.Outcome1, "1")
		h.bet(alice, domain.Outcome1, "1")
		_, err := h.m.PlaceBet(alice, domain.Outcome2, 0, time.Time{}, dec("1"))
		assert.ErrorIs(t, err, domain.ErrCannotChangeBet)
	})
}

func TestPlaceBet_LMSRHasNoWhaleCap(t *testing.T) {
	h := newHarness(t, domain.PricingLMSR)
	h.activate()
	h.bet(alice, domain.Outcome1, "1")
	h.bet(bob, domain.Outcome2, "500")
}

// Scenario C.
func TestPlaceBet_SlippageOnLMSR(t *testing.T) {
	h := newHarness(t, domain.PricingLMSR)
	h.activate()

	o1, _ := h.m.Odds()
	assert.Equal(t, pricing.EvenOddsBps, o1)

	r := h.bet(alice, domain.Outcome1, "10")
	assert.Less(t, r.OddsAfter, pricing.EvenOddsBps)
	o1, _ = h.m.CurrentImpliedOdds()
	assert.Less(t, o1, int64(20000))

	_, err := h.m.PlaceBet(bob, domain.Outcome1, 20000, time.Time{}, dec("1"))
	assert.ErrorIs(t, err, domain.ErrSlippageTooHigh)
	assert.True(t, h.m.Position(bob).TotalStake().IsZero())

	_, err = h.m.PlaceBet(bob, domain.Outcome1, 15000, time.Time{}, dec("1"))
	require.NoError(t, err)
}

func TestPlaceBet_EmitsBetPlaced(t *testing.T) {
	h := newHarness(t, domain.PricingParimutuel)
	h.activate()
	h.bet(alice, domain.Outcome2, "3")
	e, ok := h.events.Last(domain.EventBetPlaced)
	require.True(t, ok)
	assert.Equal(t, alice, e.Actor)
	assert.Equal(t, h.m.Address(), e.Market)
	assert.Equal(t, "3", e.Data["amount"])
	assert.Equal(t, int64(10000), e.Data["odds2"])
}
