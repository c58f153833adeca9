// Package factory creates markets, holds creator bonds, and gates the
// PROPOSED → APPROVED → ACTIVE pipeline.
package factory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/pricing"
)

// Factory owns every market it created.
type Factory struct {
	addr            common.Address
	nonce           uint64
	markets         map[common.Address]*market.Market
	order           []common.Address
	approvals       map[common.Address]*domain.Approval
	bonds           map[common.Address]decimal.Decimal
	defaultCurve    domain.PricingKind
	templateVersion uint64
	paused          bool

	marketDeps market.Deps
	policy     *bluemonday.Policy
	log        *slog.Logger
}

// New creates a factory at addr. Markets it creates use marketDeps.
func New(addr common.Address, marketDeps market.Deps) *Factory {
	if marketDeps.Clock == nil {
		marketDeps.Clock = time.Now
	}
	if marketDeps.Events == nil {
		marketDeps.Events = domain.NopSink{}
	}
	logger := marketDeps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		addr:            addr,
		markets:         make(map[common.Address]*market.Market),
		approvals:       make(map[common.Address]*domain.Approval),
		bonds:           make(map[common.Address]decimal.Decimal),
		templateVersion: 1,
		marketDeps:      marketDeps,
		policy:          bluemonday.StrictPolicy(),
		log:             logger.With(slog.String("component", "factory")),
	}
}

func (f *Factory) Address() common.Address { return f.addr }

func (f *Factory) now() time.Time { return f.marketDeps.Clock() }

func (f *Factory) emit(t domain.EventType, mkt, actor common.Address, data map[string]any) {
	f.marketDeps.Events.Emit(domain.Event{Type: t, Market: mkt, Actor: actor, Data: data, Timestamp: f.now()})
}

func (f *Factory) hasRole(role domain.Role, p common.Address) bool {
	return f.marketDeps.Access != nil && f.marketDeps.Access.HasRole(role, p)
}

func (f *Factory) sanitize(s string) string {
	return strings.TrimSpace(f.policy.Sanitize(s))
}

// CreateMarket deploys a market bound to the current template and default
// curve. bondPayment is the value sent with the call and must equal the
// configured creator bond.
func (f *Factory) CreateMarket(caller common.Address, cfg domain.MarketConfig, bondPayment decimal.Decimal) (*market.Market, error) {
	eff := f.marketDeps.Params.Snapshot()
	now := f.now()

	if f.paused {
		return nil, domain.ErrPaused
	}
	cfg.Question = f.sanitize(cfg.Question)
	cfg.Description = f.sanitize(cfg.Description)
	cfg.Category = f.sanitize(cfg.Category)
	cfg.Outcome1 = f.sanitize(cfg.Outcome1)
	cfg.Outcome2 = f.sanitize(cfg.Outcome2)
	if cfg.Question == "" {
		return nil, domain.ErrInvalidQuestion
	}
	if !cfg.ResolutionTime.After(now) || cfg.ResolutionTime.After(now.Add(eff.MaxResolutionHorizon)) {
		return nil, domain.ErrInvalidResolutionTime
	}
	if bondPayment.LessThan(eff.MinCreatorBond) {
		return nil, domain.ErrInsufficientBond
	}
	if !bondPayment.Equal(cfg.CreatorBond) {
		return nil, domain.ErrInvalidBondAmount
	}
	if f.defaultCurve == "" {
		return nil, domain.ErrNoDefaultCurve
	}
	engine, err := f.engineFor(eff)
	if err != nil {
		return nil, err
	}
	if cfg.Outcome1 == "" {
		cfg.Outcome1 = "Yes"
	}
	if cfg.Outcome2 == "" {
		cfg.Outcome2 = "No"
	}

	addr := crypto.CreateAddress(f.addr, f.nonce)
	f.nonce++
	m := market.New(market.Options{
		Address:         addr,
		Factory:         f.addr,
		Creator:         caller,
		Config:          cfg,
		Engine:          engine,
		TemplateVersion: f.templateVersion,
	}, f.marketDeps)
	f.markets[addr] = m
	f.order = append(f.order, addr)
	f.approvals[addr] = &domain.Approval{}
	f.bonds[addr] = bondPayment

	f.emit(domain.EventMarketCreated, addr, caller, map[string]any{
		"creator":         caller.Hex(),
		"question":        cfg.Question,
		"resolution_time": cfg.ResolutionTime.Unix(),
		"curve":           string(f.defaultCurve),
		"bond":            bondPayment.String(),
		"template":        f.templateVersion,
	})
	f.log.Info("market created",
		slog.String("market", addr.Hex()),
		slog.String("creator", caller.Hex()),
		slog.String("curve", string(f.defaultCurve)))
	return m, nil
}

func (f *Factory) engineFor(eff params.Effective) (pricing.Engine, error) {
	return pricing.FromSpec(pricing.Spec{
		Kind:          f.defaultCurve,
		Liquidity:     eff.LMSRLiquidity,
		VirtualShares: eff.LMSRVirtualShares,
	})
}

// GetMarket returns the market at addr.
func (f *Factory) GetMarket(addr common.Address) (*market.Market, error) {
	m, ok := f.markets[addr]
	if !ok {
		return nil, fmt.Errorf("factory: %s: %w", addr.Hex(), domain.ErrMarketNotFound)
	}
	return m, nil
}

// Markets lists markets in creation order.
func (f *Factory) Markets() []*market.Market {
	out := make([]*market.Market, 0, len(f.order))
	for _, a := range f.order {
		out = append(out, f.markets[a])
	}
	return out
}

func (f *Factory) MarketCount() int { return len(f.order) }

// CreatorOf returns the creator of mkt.
func (f *Factory) CreatorOf(mkt common.Address) (common.Address, error) {
	m, err := f.GetMarket(mkt)
	if err != nil {
		return common.Address{}, err
	}
	return m.Creator(), nil
}

// ApprovalOf returns the approval record of mkt.
func (f *Factory) ApprovalOf(mkt common.Address) (domain.Approval, error) {
	a, ok := f.approvals[mkt]
	if !ok {
		return domain.Approval{}, domain.ErrMarketNotFound
	}
	return *a, nil
}

// HeldBond returns the creator bond still held for mkt.
func (f *Factory) HeldBond(mkt common.Address) decimal.Decimal {
	return f.bonds[mkt]
}

func (f *Factory) DefaultCurve() domain.PricingKind { return f.defaultCurve }

func (f *Factory) TemplateVersion() uint64 { return f.templateVersion }

func (f *Factory) Paused() bool { return f.paused }

// SetDefaultCurve selects the engine future markets bind to. ADMIN only.
func (f *Factory) SetDefaultCurve(caller common.Address, kind domain.PricingKind) error {
	if !f.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if kind != domain.PricingParimutuel && kind != domain.PricingLMSR {
		return domain.ErrInvalidValue
	}
	f.defaultCurve = kind
	f.emit(domain.EventDefaultCurveSet, common.Address{}, caller, map[string]any{"curve": string(kind)})
	return nil
}

// SetTemplate swaps the template version future markets record. Existing
// markets keep the version and engine they were created with.
func (f *Factory) SetTemplate(caller common.Address, version uint64) error {
	if !f.hasRole(domain.RoleAdmin, caller) {
		return domain.ErrUnauthorized
	}
	if version == 0 {
		return domain.ErrInvalidVersion
	}
	f.templateVersion = version
	f.emit(domain.EventTemplateUpdated, common.Address{}, caller, map[string]any{"version": version})
	return nil
}

// Pause stops market creation. PAUSER only.
func (f *Factory) Pause(caller common.Address) error {
	if !f.hasRole(domain.RolePauser, caller) {
		return domain.ErrUnauthorized
	}
	f.paused = true
	f.emit(domain.EventFactoryPaused, common.Address{}, caller, nil)
	return nil
}

// Unpause resumes market creation. PAUSER only.
func (f *Factory) Unpause(caller common.Address) error {
	if !f.hasRole(domain.RolePauser, caller) {
		return domain.ErrUnauthorized
	}
	f.paused = false
	f.emit(domain.EventFactoryUnpaused, common.Address{}, caller, nil)
	return nil
}

var _ domain.CreatorLookup = (*Factory)(nil)
