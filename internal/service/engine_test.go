package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	oracle   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	start    = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t       *testing.T
	ctx     context.Context
	now     time.Time
	e       *Engine
	stores  Stores
	markets *memMarkets
	events  *memEvents
	fees    *memFees
	state   *memState
	xfers   *memTransfers
	cache   *memCache
	locks   *memLocks
	bus     *memBus
	alerts  *recordingAlerter
	shared  bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		t:       t,
		ctx:     context.Background(),
		now:     start,
		markets: &memMarkets{views: map[common.Address]domain.MarketView{}, states: map[common.Address][]byte{}},
		events:  &memEvents{},
		fees:    &memFees{records: map[common.Address]domain.FeeRecord{}},
		state:   &memState{data: map[string][]byte{}},
		xfers:   &memTransfers{},
		cache:   &memCache{views: map[common.Address]domain.MarketView{}},
		locks:   &memLocks{},
		bus:     &memBus{published: map[string][][]byte{}, stream: map[string][][]byte{}},
		alerts:  &recordingAlerter{},
	}
	fx.stores = Stores{
		Markets:     fx.markets,
		Resolutions: &memResolutions{recs: map[common.Address]domain.ResolutionRecord{}},
		Fees:        fx.fees,
		Events:      fx.events,
		Transfers:   fx.xfers,
		State:       fx.state,
	}
	fx.e = fx.build()
	return fx
}

func (fx *fixture) build() *Engine {
	fx.t.Helper()
	e, err := New(Config{
		Deployer:  deployer,
		Operator:  operator,
		Resolvers: []common.Address{oracle},
		Overrides: map[string]decimal.Decimal{params.KeyMaxBetPercent: dec("100")},
		Shared:    fx.shared,
	}, Deps{
		Stores:  fx.stores,
		Cache:   fx.cache,
		Locks:   fx.locks,
		Bus:     fx.bus,
		Alerter: fx.alerts,
		Clock:   func() time.Time { return fx.now },
	})
	require.NoError(fx.t, err)
	return e
}

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

// activeMarket creates, approves and activates a market resolving in one day.
func (fx *fixture) activeMarket() common.Address {
	fx.t.Helper()
	v, err := fx.e.CreateMarket(fx.ctx, creator, domain.MarketConfig{
		Question:       "Will the bridge open before July?",
		ResolutionTime: fx.now.Add(24 * time.Hour),
		CreatorBond:    dec("0.1"),
		Category:       "infrastructure",
	}, dec("0.1"))
	require.NoError(fx.t, err)
	require.NoError(fx.t, fx.e.ApproveMarket(fx.ctx, deployer, v.Address))
	require.NoError(fx.t, fx.e.ActivateMarket(fx.ctx, operator, v.Address))
	return v.Address
}

func (fx *fixture) bet(who, mkt common.Address, outcome domain.Outcome, amount string) {
	fx.t.Helper()
	_, err := fx.e.PlaceBet(fx.ctx, who, mkt, outcome, 0, time.Time{}, dec(amount))
	require.NoError(fx.t, err)
}

func (fx *fixture) propose(mkt common.Address, outcome domain.Outcome) {
	fx.t.Helper()
	fx.advance(25 * time.Hour)
	require.NoError(fx.t, fx.e.ProposeResolution(fx.ctx, oracle, mkt, outcome, "https://example.org/report"))
}

func (fx *fixture) settle(mkt common.Address, outcome domain.Outcome) {
	fx.t.Helper()
	fx.propose(mkt, outcome)
	fx.advance(49 * time.Hour)
	require.NoError(fx.t, fx.e.FinalizeResolution(fx.ctx, operator, mkt))
}

// --- construction ---

func TestNew_RequiresDeployer(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.ErrorIs(t, err, domain.ErrZeroAddress)
}

func TestNew_InstallsComponentsAndRoles(t *testing.T) {
	fx := newFixture(t)
	contracts := fx.e.Contracts()
	for _, key := range []string{
		registry.KeyAccessControl, registry.KeyParameterStorage, registry.KeyMarketFactory,
		registry.KeyRewardDistributor, registry.KeyResolutionManager, registry.KeyMarketTemplate,
		registry.KeyLMSRCurve, registry.KeyParimutuelCurve,
	} {
		assert.Equal(t, domain.ComponentAddress(key), contracts[key], key)
	}
	assert.True(t, fx.e.HasRole(domain.RoleBackend, operator))
	assert.True(t, fx.e.HasRole(domain.RoleResolver, oracle))
	assert.True(t, fx.e.Parameters()[params.KeyMaxBetPercent].Equal(dec("100")))
	assert.Empty(t, fx.events.events, "boot events are not recorded")
}

// --- scenarios ---

func TestEngine_ParimutuelSettlement(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.settle(mkt, domain.Outcome1)

	paid, err := fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1.9")), "payout %s", paid)
	assert.True(t, fx.e.Book().Paid(alice).Equal(dec("1.9")))

	_, err = fx.e.ClaimWinnings(fx.ctx, bob, mkt)
	require.ErrorIs(t, err, domain.ErrNoWinnings)
	_, err = fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	bal := fx.e.LedgerBalances()
	assert.True(t, bal.TotalFeesCollected.Equal(dec("0.1")))
	assert.True(t, bal.TotalRewardsClaimed.Equal(dec("1.9")))

	v, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinalized, v.State)
	assert.Equal(t, domain.Outcome1, v.Result)
}

func TestEngine_EmptyWinningPoolCancels(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.settle(mkt, domain.Outcome2)

	v, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, v.Result)

	paid, err := fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1")))
	assert.True(t, fx.e.LedgerBalances().TotalFeesCollected.IsZero())
}

func TestEngine_LMSRSlippage(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.e.SetDefaultCurve(fx.ctx, deployer, domain.PricingLMSR))
	mkt := fx.activeMarket()

	o1, _, err := fx.e.Odds(mkt)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), o1)

	fx.bet(alice, mkt, domain.Outcome1, "10")
	o1, _, err = fx.e.Odds(mkt)
	require.NoError(t, err)
	assert.Less(t, o1, int64(20000))

	_, err = fx.e.PlaceBet(fx.ctx, bob, mkt, domain.Outcome1, 20000, time.Time{}, dec("1"))
	require.ErrorIs(t, err, domain.ErrSlippageTooHigh)
	pos, err := fx.e.Position(mkt, bob)
	require.NoError(t, err)
	assert.True(t, pos.Stake1.IsZero())
}

func TestEngine_CommunityAgreementAutoFinalizes(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.propose(mkt, domain.Outcome1)

	require.NoError(t, fx.e.SubmitDisputeSignals(fx.ctx, operator, mkt, 100, 0))

	v, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinalized, v.State)
	assert.Equal(t, domain.Outcome1, v.Result)
	rec, err := fx.e.GetResolution(mkt)
	require.NoError(t, err)
	assert.True(t, rec.AutoFinalized)
	assert.Equal(t, 1, fx.events.count(domain.EventMarketAutoFinalized))
}

func TestEngine_CommunityDisputeThenAdminResolve(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.propose(mkt, domain.Outcome1)

	require.NoError(t, fx.e.SubmitDisputeSignals(fx.ctx, operator, mkt, 50, 50))
	v, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisputed, v.State)

	require.NoError(t, fx.e.AdminResolveMarket(fx.ctx, deployer, mkt, domain.Outcome2, "source retracted"))
	v, err = fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinalized, v.State)
	assert.Equal(t, domain.Outcome2, v.Result)

	paid, err := fx.e.ClaimWinnings(fx.ctx, bob, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1.9")))
}

func TestEngine_RevertingLedgerDoesNotBlockSettlement(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")

	broken := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	require.NoError(t, fx.e.registry.Install(deployer, registry.KeyRewardDistributor, broken, 2, revertingLedger{}))
	fx.settle(mkt, domain.Outcome1)

	fees, err := fx.e.MarketFees(mkt)
	require.NoError(t, err)
	assert.True(t, fees.Accumulated.Equal(dec("0.1")), "accumulated %s", fees.Accumulated)
	require.NotEmpty(t, fx.alerts.alerts)
	assert.Equal(t, domain.EventFeeCollectionFailed, fx.alerts.alerts[0].Type)

	require.NoError(t, fx.e.registry.Install(deployer, registry.KeyRewardDistributor,
		domain.ComponentAddress(registry.KeyRewardDistributor), 3, fx.e.ledger))
	out, err := fx.e.WithdrawAccumulatedFees(fx.ctx, deployer, mkt)
	require.NoError(t, err)
	assert.True(t, out.Equal(dec("0.1")))

	fees, err = fx.e.MarketFees(mkt)
	require.NoError(t, err)
	assert.True(t, fees.Accumulated.IsZero())
	assert.True(t, fees.Record.TotalFees.Equal(dec("0.1")))
}

// --- engine plumbing ---

func TestEngine_FailedOperationCommitsNothing(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	before := len(fx.events.events)

	_, err := fx.e.PlaceBet(fx.ctx, alice, mkt, domain.Outcome1, 0, time.Time{}, dec("0.0001"))
	require.ErrorIs(t, err, domain.ErrBetTooSmall)
	assert.Len(t, fx.events.events, before)
}

func TestEngine_FailedClaimTransferIsParked(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.settle(mkt, domain.Outcome1)

	fx.e.Book().Freeze(alice)
	paid, err := fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1.9")))
	assert.True(t, fx.e.LedgerBalances().TotalRewardsClaimed.IsZero())
	assert.Equal(t, 1, fx.events.count(domain.EventClaimFailed))

	fx.e.Book().Unfreeze(alice)
	got, err := fx.e.WithdrawUnclaimed(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1.9")))
	assert.True(t, fx.e.LedgerBalances().TotalRewardsClaimed.Equal(dec("1.9")))
	require.Len(t, fx.fees.claims, 1)
	assert.Equal(t, alice, fx.fees.claims[0].Claimer)
}

func TestEngine_PersistsAndPublishes(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")

	assert.Contains(t, fx.locks.acquired, lockKey(mkt))
	assert.Contains(t, fx.markets.views, mkt)
	for _, name := range []string{stateAccess, stateParams, stateFactory, stateFees, stateResolution} {
		assert.Contains(t, fx.state.data, name)
	}

	published := fx.bus.published[EventChannel]
	require.NotEmpty(t, published)
	assert.Len(t, fx.bus.stream[EventStream], len(published))
	var last domain.Event
	require.NoError(t, json.Unmarshal(published[len(published)-1], &last))
	assert.Equal(t, domain.EventBetPlaced, last.Type)
	assert.NotEmpty(t, last.ID)

	fx.settle(mkt, domain.Outcome1)
	_, err := fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.NotEmpty(t, fx.xfers.transfers)
	assert.Equal(t, 0, fx.e.Book().Pending())
}

func TestEngine_LockFailureAbortsOperation(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.locks.fail = true
	_, err := fx.e.PlaceBet(fx.ctx, alice, mkt, domain.Outcome1, 0, time.Time{}, dec("1"))
	require.ErrorIs(t, err, domain.ErrLockHeld)
	pos, err := fx.e.Position(mkt, alice)
	require.NoError(t, err)
	assert.True(t, pos.Stake1.IsZero())
}

func TestEngine_LoadRestoresState(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.propose(mkt, domain.Outcome1)

	restarted := fx.build()
	require.NoError(t, restarted.Load(fx.ctx))

	pos, err := restarted.Position(mkt, alice)
	require.NoError(t, err)
	assert.True(t, pos.Stake1.Equal(dec("1")))
	rec, err := restarted.GetResolution(mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome1, rec.ProposedOutcome)

	fx.advance(49 * time.Hour)
	require.NoError(t, restarted.FinalizeResolution(fx.ctx, operator, mkt))
	paid, err := restarted.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1.9")))
}

func TestEngine_NoopOperationIsNotPersisted(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	saves := fx.state.saveCount()
	events := len(fx.events.events)

	assert.Equal(t, 0, NewKeeper(fx.e, operator, time.Minute, nil).Tick(fx.ctx))
	_, err := fx.e.PlaceBet(fx.ctx, alice, mkt, domain.Outcome1, 0, time.Time{}, dec("0"))
	require.Error(t, err)

	assert.Equal(t, saves, fx.state.saveCount())
	assert.Len(t, fx.events.events, events)
}

// A keeper process and an API process over the same stores each see what
// the other committed, and neither overwrites the other with stale state.
func TestEngine_SharedStoresAcrossEngines(t *testing.T) {
	fx := newFixture(t)
	fx.shared = true
	fx.e = fx.build()
	keeperEngine := fx.build()
	k := NewKeeper(keeperEngine, operator, time.Minute, nil)

	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.bet(bob, mkt, domain.Outcome2, "1")
	fx.propose(mkt, domain.Outcome1)
	assert.Contains(t, fx.locks.acquired, stateLockKey)

	rec, err := keeperEngine.GetResolution(mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome1, rec.ProposedOutcome)

	fx.advance(49 * time.Hour)
	assert.Equal(t, 1, k.Tick(fx.ctx))

	rec, err = fx.e.GetResolution(mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionFinalized, rec.Status)
	paid, err := fx.e.ClaimWinnings(fx.ctx, alice, mkt)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec("1.9")))

	saves := fx.state.saveCount()
	assert.Equal(t, 0, k.Tick(fx.ctx))
	assert.Equal(t, saves, fx.state.saveCount())

	restarted := fx.build()
	require.NoError(t, restarted.Load(fx.ctx))
	rec, err = restarted.GetResolution(mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionFinalized, rec.Status)
	_, _, err = restarted.Odds(mkt)
	require.NoError(t, err)
	assert.True(t, restarted.LedgerBalances().TotalRewardsClaimed.Equal(dec("1.9")))
	_, err = restarted.ClaimWinnings(fx.ctx, alice, mkt)
	require.Error(t, err)
	assert.True(t, keeperEngine.LedgerBalances().TotalRewardsClaimed.Equal(dec("1.9")))
}

func TestEngine_LoadWithoutStateIsNoop(t *testing.T) {
	e, err := New(Config{Deployer: deployer}, Deps{})
	require.NoError(t, err)
	require.NoError(t, e.Load(context.Background()))
}

// --- views ---

func TestEngine_GetMarketUsesCache(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	_, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.cache.hits)

	_, err = fx.e.GetMarket(fx.ctx, common.HexToAddress("0x1234"))
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestEngine_ListMarkets(t *testing.T) {
	fx := newFixture(t)
	active := fx.activeMarket()
	_, err := fx.e.CreateMarket(fx.ctx, carol, domain.MarketConfig{
		Question:       "Will turnout exceed 60%?",
		ResolutionTime: fx.now.Add(48 * time.Hour),
		CreatorBond:    dec("0.1"),
		Category:       "politics",
	}, dec("0.1"))
	require.NoError(t, err)

	all, err := fx.e.ListMarkets(fx.ctx, domain.MarketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	st := domain.StateActive
	got, err := fx.e.ListMarkets(fx.ctx, domain.MarketFilter{State: &st})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active, got[0].Address)

	got, err = fx.e.ListMarkets(fx.ctx, domain.MarketFilter{Category: "POLITICS"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, carol, got[0].Creator)

	got, err = fx.e.ListMarkets(fx.ctx, domain.MarketFilter{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestEngine_InMemoryListing(t *testing.T) {
	e, err := New(Config{Deployer: deployer}, Deps{Clock: func() time.Time { return start }})
	require.NoError(t, err)
	_, err = e.CreateMarket(context.Background(), creator, domain.MarketConfig{
		Question:       "Will it rain?",
		ResolutionTime: start.Add(time.Hour),
		CreatorBond:    dec("0.1"),
	}, dec("0.1"))
	require.NoError(t, err)
	got, err := e.ListMarkets(context.Background(), domain.MarketFilter{Creator: &creator})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = e.ListMarkets(context.Background(), domain.MarketFilter{ListOpts: domain.ListOpts{Offset: 5}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- keeper ---

func TestKeeper_TickFinalizesExpired(t *testing.T) {
	fx := newFixture(t)
	mkt := fx.activeMarket()
	fx.bet(alice, mkt, domain.Outcome1, "1")
	fx.propose(mkt, domain.Outcome1)

	k := NewKeeper(fx.e, operator, time.Second, nil)
	assert.Equal(t, 0, k.Tick(fx.ctx), "window still open")

	fx.advance(49 * time.Hour)
	assert.Equal(t, 1, k.Tick(fx.ctx))
	v, err := fx.e.GetMarket(fx.ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinalized, v.State)
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(fx.ctx)
	cancel()
	err := NewKeeper(fx.e, operator, time.Millisecond, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
