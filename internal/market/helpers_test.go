package market

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
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/pricing"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

var (
	admin       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	rmAddr      = domain.ComponentAddress(registry.KeyResolutionManager)
	ledgerAddr  = domain.ComponentAddress(registry.KeyRewardDistributor)
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol       = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	start       = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var errReverted = errors.New("recipient reverted")

type fakeTransfers struct {
	sent  map[common.Address]decimal.Decimal
	fail  map[common.Address]bool
	block bool
	hook  func(ctx context.Context) error

	lastDeadline time.Time
}

func newFakeTransfers() *fakeTransfers {
	return &fakeTransfers{sent: map[common.Address]decimal.Decimal{}, fail: map[common.Address]bool{}}
}

func (f *fakeTransfers) Transfer(ctx context.Context, _, to common.Address, amount decimal.Decimal) error {
	if d, ok := ctx.Deadline(); ok {
		f.lastDeadline = d
	} else {
		f.lastDeadline = time.Time{}
	}
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail[to] {
		return errReverted
	}
	f.sent[to] = f.sent[to].Add(amount)
	return nil
}

type fakeCollector struct {
	fail     bool
	received map[common.Address]decimal.Decimal
	calls    int
}

func (c *fakeCollector) CollectFees(_ context.Context, market common.Address, amount, payment decimal.Decimal) error {
	c.calls++
	if c.fail {
		return errors.New("fee ledger reverted")
	}
	if !amount.Equal(payment) {
		return domain.ErrIncorrectPayment
	}
	if c.received == nil {
		c.received = map[common.Address]decimal.Decimal{}
	}
	c.received[market] = c.received[market].Add(amount)
	return nil
}

type harness struct {
	t         *testing.T
	now       time.Time
	params    params.Effective
	gate      *access.Gate
	reg       *registry.Registry
	events    *domain.EventBuffer
	transfers *fakeTransfers
	collector *fakeCollector
	m         *Market
}

type paramSource struct{ h *harness }

func (p paramSource) Snapshot() params.Effective { return p.h.params }

func newHarness(t *testing.T, kind domain.PricingKind) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		now:       start,
		params:    params.Defaults(),
		events:    &domain.EventBuffer{},
		transfers: newFakeTransfers(),
		collector: &fakeCollector{},
	}
	clock := func() time.Time { return h.now }
	h.gate = access.New(admin, nil, clock)
	h.reg = registry.New(h.gate, nil, clock)
	require.NoError(t, h.reg.Install(admin, registry.KeyResolutionManager, rmAddr, 1, struct{}{}))
	require.NoError(t, h.reg.Install(admin, registry.KeyRewardDistributor, ledgerAddr, 1, h.collector))

	var engine pricing.Engine = pricing.Parimutuel{}
	if kind == domain.PricingLMSR {
		l, err := pricing.NewLMSR(h.params.LMSRLiquidity, h.params.LMSRVirtualShares)
		require.NoError(t, err)
		engine = l
	}
	h.m = New(Options{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000d1"),
		Factory: factoryAddr,
		Creator: carol,
		Config: domain.MarketConfig{
			Question:       "Will it rain tomorrow?",
			ResolutionTime: start.Add(24 * time.Hour),
			CreatorBond:    dec("0.1"),
			Outcome1:       "Yes",
			Outcome2:       "No",
		},
		Engine:          engine,
		TemplateVersion: 1,
	}, h.deps())
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Registry:  h.reg,
		Access:    h.gate,
		Params:    paramSource{h},
		Transfers: h.transfers,
		Events:    h.events,
		Clock:     func() time.Time { return h.now },
	}
}

func (h *harness) activate() {
	h.t.Helper()
	require.NoError(h.t, h.m.Approve(factoryAddr))
	require.NoError(h.t, h.m.Activate(factoryAddr))
}

func (h *harness) bet(who common.Address, o domain.Outcome, amount string) domain.BetReceipt {
	h.t.Helper()
	r, err := h.m.PlaceBet(who, o, 0, time.Time{}, dec(amount))
	require.NoError(h.t, err)
	return r
}

func (h *harness) resolve(o domain.Outcome) domain.Outcome {
	h.t.Helper()
	h.now = h.m.ResolutionTime().Add(time.Minute)
	require.NoError(h.t, h.m.ProposeOutcome(rmAddr, o))
	got, err := h.m.Finalize(context.Background(), rmAddr, o)
	require.NoError(h.t, err)
	return got
}
