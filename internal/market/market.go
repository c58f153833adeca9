// Package market implements a single binary-outcome market: its lifecycle
// state machine, bet ledger, settlement, and pull-based payouts.
package market

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/pricing"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// ClaimTransferTimeout bounds the payout attempt made by ClaimWinnings.
const ClaimTransferTimeout = 3 * time.Second

// Deps are the collaborators a market calls into.
type Deps struct {
	Registry  *registry.Registry
	Access    domain.AccessGate
	Params    params.Source
	Transfers domain.Transferer
	Events    domain.EventSink
	Clock     func() time.Time
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = domain.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Options fix a market's identity at creation.
type Options struct {
	Address         common.Address
	Factory         common.Address
	Creator         common.Address
	Config          domain.MarketConfig
	Engine          pricing.Engine
	TemplateVersion uint64
}

// Market is one market instance. It is not safe for concurrent use; callers
// serialize operations.
type Market struct {
	addr            common.Address
	factory         common.Address
	creator         common.Address
	cfg             domain.MarketConfig
	createdAt       time.Time
	engine          pricing.Engine
	templateVersion uint64

	state    domain.MarketState
	result   domain.Outcome
	rejected bool

	pool      pricing.PoolState
	positions map[common.Address]*domain.Position
	bettors   []common.Address

	fee                decimal.Decimal
	feesTransferred    decimal.Decimal
	accumulatedFees    decimal.Decimal
	paidOut            decimal.Decimal
	emergencyWithdrawn decimal.Decimal
	resolvedAt         time.Time

	entered bool
	deps    Deps
	log     *slog.Logger
}

// New creates a market in PROPOSED.
func New(opts Options, deps Deps) *Market {
	deps = deps.withDefaults()
	return &Market{
		addr:            opts.Address,
		factory:         opts.Factory,
		creator:         opts.Creator,
		cfg:             opts.Config,
		createdAt:       deps.Clock(),
		engine:          opts.Engine,
		templateVersion: opts.TemplateVersion,
		state:           domain.StateProposed,
		positions:       make(map[common.Address]*domain.Position),
		deps:            deps,
		log:             deps.Logger.With(slog.String("component", "market"), slog.String("market", opts.Address.Hex())),
	}
}

func (m *Market) Address() common.Address { return m.addr }
func (m *Market) Factory() common.Address { return m.factory }
func (m *Market) Creator() common.Address { return m.creator }
func (m *Market) Config() domain.MarketConfig { return m.cfg }
func (m *Market) ResolutionTime() time.Time { return m.cfg.ResolutionTime }
func (m *Market) State() domain.MarketState { return m.state }
func (m *Market) Result() domain.Outcome { return m.result }
func (m *Market) Rejected() bool { return m.rejected }
func (m *Market) Engine() pricing.Engine { return m.engine }
func (m *Market) TemplateVersion() uint64 { return m.templateVersion }
func (m *Market) ResolvedAt() time.Time { return m.resolvedAt }
func (m *Market) Pool() pricing.PoolState { return m.pool }
func (m *Market) TotalPool() decimal.Decimal { return m.pool.Total() }
func (m *Market) AccumulatedFees() decimal.Decimal { return m.accumulatedFees }

// FeesCollected is the settlement fee, whether handed off or still buffered.
func (m *Market) FeesCollected() decimal.Decimal { return m.fee }

// Balance is the value still held by the market: the pool less payouts and
// fees that left it. Buffered fees and unclaimed winnings stay inside.
func (m *Market) Balance() decimal.Decimal {
	return m.pool.Total().Sub(m.paidOut).Sub(m.feesTransferred).Sub(m.emergencyWithdrawn)
}

// Position returns principal's position. The zero Position is returned for
// principals who never bet.
func (m *Market) Position(principal common.Address) domain.Position {
	if p, ok := m.positions[principal]; ok {
		return *p
	}
	return domain.Position{Principal: principal}
}

// Positions lists every position in first-bet order.
func (m *Market) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(m.bettors))
	for _, a := range m.bettors {
		out = append(out, *m.positions[a])
	}
	return out
}

// HasClaimed reports whether principal has claimed.
func (m *Market) HasClaimed(principal common.Address) bool {
	p, ok := m.positions[principal]
	return ok && p.Claimed
}

// UnclaimedWinnings is the stored balance left by a failed claim transfer.
func (m *Market) UnclaimedWinnings(principal common.Address) decimal.Decimal {
	if p, ok := m.positions[principal]; ok {
		return p.Unclaimed
	}
	return decimal.Zero
}

// Odds returns the implied odds of both outcomes in bp.
func (m *Market) Odds() (int64, int64) {
	return m.engine.Odds(m.pool)
}

// CurrentImpliedOdds returns the odds the next bet would be priced from.
func (m *Market) CurrentImpliedOdds() (int64, int64) {
	return m.Odds()
}

// CalculatePayout returns what principal is owed once the market is
// finalized. Cancelled markets refund the full stake.
func (m *Market) CalculatePayout(principal common.Address) decimal.Decimal {
	if m.state != domain.StateFinalized {
		return decimal.Zero
	}
	p, ok := m.positions[principal]
	if !ok {
		return decimal.Zero
	}
	if m.result == domain.OutcomeCancelled {
		return p.TotalStake()
	}
	distributable := m.pool.Total().Sub(m.fee)
	return pricing.Payout(p.Shares(m.result), m.pool.Shares(m.result), distributable)
}

// View returns the read model of the market.
func (m *Market) View() domain.MarketView {
	o1, o2 := m.Odds()
	v := domain.MarketView{
		Address:         m.addr,
		Question:        m.cfg.Question,
		Description:     m.cfg.Description,
		Category:        m.cfg.Category,
		Outcome1:        m.cfg.Outcome1,
		Outcome2:        m.cfg.Outcome2,
		Creator:         m.creator,
		ResolutionTime:  m.cfg.ResolutionTime,
		State:           m.state,
		Result:          m.result,
		Rejected:        m.rejected,
		Pricing:         m.engine.Kind(),
		TemplateVersion: m.templateVersion,
		Pool1:           m.pool.Pool1,
		Pool2:           m.pool.Pool2,
		TotalPool:       m.pool.Total(),
		Shares1:         m.pool.Shares1,
		Shares2:         m.pool.Shares2,
		Odds1:           o1,
		Odds2:           o2,
		FeesCollected:   m.fee,
		AccumulatedFees: m.accumulatedFees,
		BettorCount:     len(m.bettors),
		CreatedAt:       m.createdAt,
	}
	if !m.resolvedAt.IsZero() {
		at := m.resolvedAt
		v.ResolvedAt = &at
	}
	return v
}

func (m *Market) now() time.Time { return m.deps.Clock() }

func (m *Market) emit(t domain.EventType, actor common.Address, data map[string]any) {
	m.deps.Events.Emit(domain.Event{
		Type:      t,
		Market:    m.addr,
		Actor:     actor,
		Data:      data,
		Timestamp: m.now(),
	})
}

func (m *Market) isAdmin(p common.Address) bool {
	return m.deps.Access != nil && m.deps.Access.HasRole(domain.RoleAdmin, p)
}

// enter sets the reentrancy flag. The returned func clears it.
func (m *Market) enter() (func(), error) {
	if m.entered {
		return nil, domain.ErrReentrantCall
	}
	m.entered = true
	return func() { m.entered = false }, nil
}
