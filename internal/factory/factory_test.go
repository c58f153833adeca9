package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/access"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	backend  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	pauser   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	selfAddr = domain.ComponentAddress(registry.KeyMarketFactory)
	start    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeTransfers struct {
	fail bool
	sent map[common.Address]decimal.Decimal
	n    int
}

func (f *fakeTransfers) Transfer(_ context.Context, _, to common.Address, amount decimal.Decimal) error {
	f.n++
	if f.fail {
		return errors.New("creator reverted")
	}
	if f.sent == nil {
		f.sent = map[common.Address]decimal.Decimal{}
	}
	f.sent[to] = f.sent[to].Add(amount)
	return nil
}

type fixture struct {
	f         *Factory
	params    *params.Store
	events    *domain.EventBuffer
	transfers *fakeTransfers
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{events: &domain.EventBuffer{}, transfers: &fakeTransfers{}, now: start}
	clock := func() time.Time { return fx.now }
	gate := access.New(admin, nil, clock)
	require.NoError(t, gate.GrantRole(admin, domain.RoleBackend, backend))
	require.NoError(t, gate.GrantRole(admin, domain.RolePauser, pauser))
	fx.params = params.New(gate, nil, clock)
	reg := registry.New(gate, nil, clock)
	fx.f = New(selfAddr, market.Deps{
		Registry:  reg,
		Access:    gate,
		Params:    fx.params,
		Transfers: fx.transfers,
		Events:    fx.events,
		Clock:     clock,
	})
	require.NoError(t, fx.f.SetDefaultCurve(admin, domain.PricingParimutuel))
	return fx
}

func (fx *fixture) config() domain.MarketConfig {
	return domain.MarketConfig{
		Question:       "Will ETH close above 5k?",
		ResolutionTime: fx.now.Add(24 * time.Hour),
		CreatorBond:    dec("0.1"),
		Category:       "crypto",
	}
}

func (fx *fixture) create(t *testing.T) *market.Market {
	t.Helper()
	m, err := fx.f.CreateMarket(creator, fx.config(), dec("0.1"))
	require.NoError(t, err)
	return m
}

// --- creation ---

func TestCreateMarket_Success(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)

	assert.Equal(t, crypto.CreateAddress(selfAddr, 0), m.Address())
	assert.Equal(t, domain.StateProposed, m.State())
	assert.Equal(t, creator, m.Creator())
	assert.Equal(t, "Yes", m.Config().Outcome1)
	assert.True(t, fx.f.HeldBond(m.Address()).Equal(dec("0.1")))
	assert.Equal(t, 1, fx.f.MarketCount())

	e, ok := fx.events.Last(domain.EventMarketCreated)
	require.True(t, ok)
	assert.Equal(t, m.Address(), e.Market)
	assert.Equal(t, "parimutuel", e.Data["curve"])

	second := fx.create(t)
	assert.Equal(t, crypto.CreateAddress(selfAddr, 1), second.Address())
}

func TestCreateMarket_Validation(t *testing.T) {
	fx := newFixture(t)
	cases := []struct {
		name   string
		mutate func(*domain.MarketConfig)
		bond   string
		want   error
	}{
		{"empty question", func(c *domain.MarketConfig) { c.Question = "   " }, "0.1", domain.ErrInvalidQuestion},
		{"markup only question", func(c *domain.MarketConfig) { c.Question = "<script>alert(1)</script>" }, "0.1", domain.ErrInvalidQuestion},
		{"past resolution", func(c *domain.MarketConfig) { c.ResolutionTime = start.Add(-time.Hour) }, "0.1", domain.ErrInvalidResolutionTime},
		{"resolution now", func(c *domain.MarketConfig) { c.ResolutionTime = start }, "0.1", domain.ErrInvalidResolutionTime},
		{"beyond horizon", func(c *domain.MarketConfig) { c.ResolutionTime = start.Add(3 * 365 * 24 * time.Hour) }, "0.1", domain.ErrInvalidResolutionTime},
		{"max time", func(c *domain.MarketConfig) { c.ResolutionTime = time.Unix(1<<62, 0) }, "0.1", domain.ErrInvalidResolutionTime},
		{"bond too small", func(c *domain.MarketConfig) { c.CreatorBond = dec("0.05") }, "0.05", domain.ErrInsufficientBond},
		{"bond mismatch", func(c *domain.MarketConfig) {}, "0.2", domain.ErrInvalidBondAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fx.config()
			tc.mutate(&cfg)
			_, err := fx.f.CreateMarket(creator, cfg, dec(tc.bond))
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, fx.f.MarketCount())
}

func TestCreateMarket_SanitizesText(t *testing.T) {
	fx := newFixture(t)
	cfg := fx.config()
	cfg.Question = "<b>Will it snow?</b>"
	m, err := fx.f.CreateMarket(creator, cfg, dec("0.1"))
	require.NoError(t, err)
	assert.Equal(t, "Will it snow?", m.Config().Question)
}

func TestCreateMarket_NeedsDefaultCurve(t *testing.T) {
	fx := newFixture(t)
	fx.f.defaultCurve = ""
	_, err := fx.f.CreateMarket(creator, fx.config(), dec("0.1"))
	assert.ErrorIs(t, err, domain.ErrNoDefaultCurve)
}

func TestFactory_Pause(t *testing.T) {
	fx := newFixture(t)
	assert.ErrorIs(t, fx.f.Pause(stranger), domain.ErrUnauthorized)
	require.NoError(t, fx.f.Pause(pauser))
	_, err := fx.f.CreateMarket(creator, fx.config(), dec("0.1"))
	assert.ErrorIs(t, err, domain.ErrPaused)
	require.NoError(t, fx.f.Unpause(pauser))
	fx.create(t)
}

func TestFactory_TemplateSwapLeavesOldMarkets(t *testing.T) {
	fx := newFixture(t)
	old := fx.create(t)

	require.NoError(t, fx.f.SetTemplate(admin, 2))
	require.NoError(t, fx.f.SetDefaultCurve(admin, domain.PricingLMSR))
	assert.ErrorIs(t, fx.f.SetDefaultCurve(stranger, domain.PricingLMSR), domain.ErrUnauthorized)
	assert.ErrorIs(t, fx.f.SetDefaultCurve(admin, "cpmm"), domain.ErrInvalidValue)
	fresh := fx.create(t)

	assert.Equal(t, uint64(1), old.TemplateVersion())
	assert.Equal(t, domain.PricingParimutuel, old.Engine().Kind())
	assert.Equal(t, uint64(2), fresh.TemplateVersion())
	assert.Equal(t, domain.PricingLMSR, fresh.Engine().Kind())
}

// --- approval gates ---

func TestApproval_Pipeline(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)
	addr := m.Address()

	assert.ErrorIs(t, fx.f.ActivateMarket(backend, addr), domain.ErrMarketNotApproved)
	assert.ErrorIs(t, fx.f.AdminApproveMarket(stranger, addr), domain.ErrUnauthorized)
	require.NoError(t, fx.f.AdminApproveMarket(admin, addr))
	assert.Equal(t, domain.StateApproved, m.State())
	assert.ErrorIs(t, fx.f.AdminApproveMarket(admin, addr), domain.ErrMarketAlreadyApproved)
	assert.ErrorIs(t, fx.f.AdminRejectMarket(context.Background(), admin, addr, "late"), domain.ErrMarketAlreadyApproved)

	assert.ErrorIs(t, fx.f.ActivateMarket(stranger, addr), domain.ErrUnauthorized)
	require.NoError(t, fx.f.ActivateMarket(backend, addr))
	assert.Equal(t, domain.StateActive, m.State())

	appr, err := fx.f.ApprovalOf(addr)
	require.NoError(t, err)
	assert.True(t, appr.Approved)
	assert.Equal(t, 1, fx.events.Count(domain.EventMarketApproved))
}

func TestApproval_Reject(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)
	ctx := context.Background()

	require.NoError(t, fx.f.AdminRejectMarket(ctx, admin, m.Address(), "<i>spam</i>"))
	assert.Equal(t, domain.StateFinalized, m.State())
	assert.True(t, m.Rejected())
	assert.Equal(t, domain.OutcomeCancelled, m.Result())
	appr, _ := fx.f.ApprovalOf(m.Address())
	assert.Equal(t, "spam", appr.Reason)

	assert.ErrorIs(t, fx.f.AdminRejectMarket(ctx, admin, m.Address(), "again"), domain.ErrMarketAlreadyRejected)
	assert.ErrorIs(t, fx.f.AdminApproveMarket(admin, m.Address()), domain.ErrMarketAlreadyRejected)
	assert.ErrorIs(t, fx.f.ActivateMarket(backend, m.Address()), domain.ErrMarketNotApproved)
	assert.ErrorIs(t, fx.f.RefundCreatorBond(ctx, admin, m.Address(), "x"), domain.ErrBondNotRefundable)
}

// --- bonds ---

func TestRefundCreatorBond_Idempotent(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)
	ctx := context.Background()
	require.NoError(t, fx.f.AdminApproveMarket(admin, m.Address()))

	assert.ErrorIs(t, fx.f.RefundCreatorBond(ctx, stranger, m.Address(), "ok"), domain.ErrUnauthorized)
	require.NoError(t, fx.f.RefundCreatorBond(ctx, admin, m.Address(), "approved"))
	assert.True(t, fx.transfers.sent[creator].Equal(dec("0.1")))
	assert.True(t, fx.f.HeldBond(m.Address()).IsZero())

	assert.ErrorIs(t, fx.f.RefundCreatorBond(ctx, admin, m.Address(), "again"), domain.ErrBondAlreadyRefunded)
	assert.Equal(t, 1, fx.transfers.n)
}

func TestRefundCreatorBond_TransferFailureKeepsBond(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)
	ctx := context.Background()
	require.NoError(t, fx.f.AdminApproveMarket(admin, m.Address()))
	fx.transfers.fail = true

	require.NoError(t, fx.f.RefundCreatorBond(ctx, admin, m.Address(), "approved"))
	assert.True(t, fx.f.HeldBond(m.Address()).Equal(dec("0.1")))
	assert.Equal(t, 1, fx.events.Count(domain.EventBondRefundFailed))

	fx.transfers.fail = false
	require.NoError(t, fx.f.RefundCreatorBond(ctx, admin, m.Address(), "retry"))
	assert.True(t, fx.f.HeldBond(m.Address()).IsZero())
}

func TestRefundCreatorBond_OnRejectPolicy(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.params.SetBoolParameter(admin, params.KeyRefundBondOnReject, true))
	m := fx.create(t)

	require.NoError(t, fx.f.AdminRejectMarket(context.Background(), admin, m.Address(), "dup"))
	assert.True(t, fx.transfers.sent[creator].Equal(dec("0.1")))
	assert.ErrorIs(t, fx.f.RefundCreatorBond(context.Background(), admin, m.Address(), "again"), domain.ErrBondAlreadyRefunded)
}

func TestFactory_ExportRestore(t *testing.T) {
	fx := newFixture(t)
	m := fx.create(t)
	require.NoError(t, fx.f.AdminApproveMarket(admin, m.Address()))

	other := New(selfAddr, fx.f.marketDeps)
	other.Restore(fx.f.Export(), []*market.Market{m})
	assert.Equal(t, 1, other.MarketCount())
	appr, err := other.ApprovalOf(m.Address())
	require.NoError(t, err)
	assert.True(t, appr.Approved)
	next, err := other.CreateMarket(creator, fx.config(), dec("0.1"))
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(selfAddr, 1), next.Address())
	got, err := other.CreatorOf(m.Address())
	require.NoError(t, err)
	assert.Equal(t, creator, got)
}
