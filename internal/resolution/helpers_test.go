package resolution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/access"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/factory"
	"github.com/alanyoungcy/marketengine/internal/fees"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	backend  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	disputer = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	start    = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	rmAddr      = domain.ComponentAddress(registry.KeyResolutionManager)
	ledgerAddr  = domain.ComponentAddress(registry.KeyRewardDistributor)
	factoryAddr = domain.ComponentAddress(registry.KeyMarketFactory)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var errReverted = errors.New("recipient reverted")

type fakeTransfers struct {
	sent map[common.Address]decimal.Decimal
	fail map[common.Address]bool
}

func (f *fakeTransfers) Transfer(_ context.Context, _, to common.Address, amount decimal.Decimal) error {
	if f.fail[to] {
		return errReverted
	}
	f.sent[to] = f.sent[to].Add(amount)
	return nil
}

// revertingLedger refuses every fee and deposit.
type revertingLedger struct{}

func (revertingLedger) CollectFees(context.Context, common.Address, decimal.Decimal, decimal.Decimal) error {
	return errReverted
}

func (revertingLedger) DepositTreasury(context.Context, common.Address, decimal.Decimal) error {
	return errReverted
}

type harness struct {
	t         *testing.T
	now       time.Time
	events    *domain.EventBuffer
	transfers *fakeTransfers
	gate      *access.Gate
	params    *params.Store
	reg       *registry.Registry
	factory   *factory.Factory
	ledger    *fees.Ledger
	rm        *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		now:       start,
		events:    &domain.EventBuffer{},
		transfers: &fakeTransfers{sent: map[common.Address]decimal.Decimal{}, fail: map[common.Address]bool{}},
	}
	clock := func() time.Time { return h.now }
	h.gate = access.New(admin, nil, clock)
	require.NoError(t, h.gate.GrantRole(admin, domain.RoleResolver, resolver))
	require.NoError(t, h.gate.GrantRole(admin, domain.RoleBackend, backend))
	h.params = params.New(h.gate, nil, clock)
	require.NoError(t, h.params.SetParameter(admin, params.KeyMaxBetPercent, dec("100")))
	h.reg = registry.New(h.gate, nil, clock)

	h.factory = factory.New(factoryAddr, market.Deps{
		Registry:  h.reg,
		Access:    h.gate,
		Params:    h.params,
		Transfers: h.transfers,
		Events:    h.events,
		Clock:     clock,
	})
	require.NoError(t, h.factory.SetDefaultCurve(admin, domain.PricingParimutuel))
	h.ledger = fees.New(ledgerAddr, fees.Deps{
		Registry:  h.reg,
		Access:    h.gate,
		Params:    h.params,
		Transfers: h.transfers,
		Events:    h.events,
		Clock:     clock,
	})
	h.rm = New(rmAddr, Deps{
		Registry:  h.reg,
		Access:    h.gate,
		Params:    h.params,
		Markets:   h.factory,
		Transfers: h.transfers,
		Events:    h.events,
		Clock:     clock,
	})
	require.NoError(t, h.reg.Install(admin, registry.KeyMarketFactory, factoryAddr, 1, h.factory))
	require.NoError(t, h.reg.Install(admin, registry.KeyRewardDistributor, ledgerAddr, 1, h.ledger))
	require.NoError(t, h.reg.Install(admin, registry.KeyResolutionManager, rmAddr, 1, h.rm))
	return h
}

// openMarket creates an active market with 1 token on each side and moves
// the clock past its resolution time.
func (h *harness) openMarket() *market.Market {
	h.t.Helper()
	cfg := domain.MarketConfig{
		Question:       "Will the launch happen on schedule?",
		ResolutionTime: h.now.Add(24 * time.Hour),
		CreatorBond:    dec("0.1"),
	}
	m, err := h.factory.CreateMarket(creator, cfg, dec("0.1"))
	require.NoError(h.t, err)
	require.NoError(h.t, h.factory.AdminApproveMarket(admin, m.Address()))
	require.NoError(h.t, h.factory.ActivateMarket(backend, m.Address()))
	_, err = m.PlaceBet(alice, domain.Outcome1, 0, time.Time{}, dec("1"))
	require.NoError(h.t, err)
	_, err = m.PlaceBet(bob, domain.Outcome2, 0, time.Time{}, dec("1"))
	require.NoError(h.t, err)
	h.now = cfg.ResolutionTime.Add(time.Minute)
	return m
}

func (h *harness) propose(m *market.Market, o domain.Outcome) {
	h.t.Helper()
	require.NoError(h.t, h.rm.ProposeResolution(resolver, m.Address(), o, "official results page"))
}

func (h *harness) dispute(m *market.Market) {
	h.t.Helper()
	require.NoError(h.t, h.rm.DisputeResolution(disputer, m.Address(), "source misread", dec("0.1")))
}

func (h *harness) useRevertingLedger() {
	h.t.Helper()
	bad := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	require.NoError(h.t, h.reg.Install(admin, registry.KeyRewardDistributor, bad, 2, revertingLedger{}))
}
