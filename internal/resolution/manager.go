// Package resolution settles markets: resolver proposals, community dispute
// signals, bonded disputes with admin arbitration, and held-bond recovery.
package resolution

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// MarketSource finds live markets by address.
type MarketSource interface {
	GetMarket(addr common.Address) (*market.Market, error)
}

// ParamWriter is the parameter store as the manager uses it: snapshots for
// reads and admin writes for the threshold and window setters.
type ParamWriter interface {
	params.Source
	SetParameter(caller common.Address, key string, value decimal.Decimal) error
}

// Deps are the collaborators the manager calls into.
type Deps struct {
	Registry  *registry.Registry
	Access    domain.AccessGate
	Params    ParamWriter
	Markets   MarketSource
	Transfers domain.Transferer
	Events    domain.EventSink
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Manager holds one resolution record per market. It is not safe for
// concurrent use.
type Manager struct {
	addr common.Address
	deps Deps
	log  *slog.Logger

	records   map[common.Address]*domain.ResolutionRecord
	order     []common.Address
	history   map[common.Address][]common.Address
	heldBonds map[common.Address]decimal.Decimal
	paused    bool
	entered   bool

	policy *bluemonday.Policy
}

// New creates a manager at addr. Markets only accept lifecycle calls from
// the address registered as the ResolutionManager, so addr must match it.
func New(addr common.Address, deps Deps) *Manager {
	if deps.Events == nil {
		deps.Events = domain.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		addr:      addr,
		deps:      deps,
		log:       deps.Logger.With(slog.String("component", "resolution")),
		records:   make(map[common.Address]*domain.ResolutionRecord),
		history:   make(map[common.Address][]common.Address),
		heldBonds: make(map[common.Address]decimal.Decimal),
		policy:    bluemonday.StrictPolicy(),
	}
}

func (r *Manager) Address() common.Address { return r.addr }

// ProposeResolution records a resolver's outcome for an ACTIVE market past
// its resolution time and opens the dispute window.
func (r *Manager) ProposeResolution(caller, mkt common.Address, outcome domain.Outcome, evidence string) error {
	if !r.hasRole(domain.RoleResolver, caller) {
		return domain.ErrUnauthorizedResolver
	}
	if r.paused {
		return domain.ErrPaused
	}
	if !outcome.Resolvable() {
		return domain.ErrInvalidOutcome
	}
	evidence = r.sanitize(evidence)
	if evidence == "" {
		return domain.ErrInvalidEvidence
	}
	if _, ok := r.records[mkt]; ok {
		return domain.ErrMarketAlreadyResolved
	}
	m, err := r.deps.Markets.GetMarket(mkt)
	if err != nil {
		return err
	}
	now := r.now()
	if now.Before(m.ResolutionTime()) {
		return domain.ErrResolutionTooEarly
	}
	if m.State() != domain.StateActive {
		return domain.ErrMarketNotActive
	}
	if err := m.ProposeOutcome(r.addr, outcome); err != nil {
		return err
	}

	eff := r.deps.Params.Snapshot()
	rec := &domain.ResolutionRecord{
		Market:           mkt,
		ProposedOutcome:  outcome,
		Proposer:         caller,
		Evidence:         evidence,
		ProposedAt:       now,
		DisputeWindowEnd: now.Add(eff.DisputeWindow),
		CommunityActive:  true,
		Status:           domain.ResolutionPending,
	}
	r.records[mkt] = rec
	r.order = append(r.order, mkt)
	r.history[caller] = append(r.history[caller], mkt)

	r.emit(domain.EventResolutionProposed, mkt, caller, map[string]any{
		"outcome":  outcome.String(),
		"evidence": evidence,
	})
	r.emit(domain.EventCommunityDisputeWindowOpened, mkt, caller, map[string]any{
		"window_end": rec.DisputeWindowEnd.Unix(),
	})
	r.log.Info("resolution proposed",
		slog.String("market", mkt.Hex()),
		slog.String("outcome", outcome.String()))
	return nil
}

// SubmitDisputeSignals replaces the community agree/disagree counts and
// applies the thresholds. BACKEND only. When the transition a threshold
// calls for fails, the previous counts are kept and nothing is emitted.
func (r *Manager) SubmitDisputeSignals(ctx context.Context, caller, mkt common.Address, agree, disagree uint64) error {
	if !r.hasRole(domain.RoleBackend, caller) {
		return domain.ErrUnauthorized
	}
	rec, ok := r.records[mkt]
	if !ok || !rec.CommunityActive || rec.Status == domain.ResolutionFinalized {
		return domain.ErrNoActiveCommunityDispute
	}
	prevAgree, prevDisagree := rec.AgreeSignals, rec.DisagreeSignals
	rec.AgreeSignals = agree
	rec.DisagreeSignals = disagree
	rollback := func(err error) error {
		rec.AgreeSignals, rec.DisagreeSignals = prevAgree, prevDisagree
		return err
	}
	submitted := func() {
		r.emit(domain.EventDisputeSignalsSubmitted, mkt, caller, map[string]any{
			"agree":    agree,
			"disagree": disagree,
		})
	}

	total := new(big.Int).Add(new(big.Int).SetUint64(agree), new(big.Int).SetUint64(disagree))
	if total.Sign() == 0 {
		submitted()
		return nil
	}
	eff := r.deps.Params.Snapshot()
	switch {
	case reaches(agree, eff.AgreementThreshold, total) >= 0:
		rec.AutoFinalized = true
		if err := r.finalize(ctx, caller, rec, rec.ProposedOutcome); err != nil {
			rec.AutoFinalized = false
			return rollback(err)
		}
		submitted()
		r.emit(domain.EventMarketAutoFinalized, mkt, caller, map[string]any{
			"outcome": rec.FinalOutcome.String(),
		})
	case reaches(disagree, eff.DisagreementThreshold, total) >= 0:
		if rec.Status == domain.ResolutionDisputed {
			submitted()
			return nil
		}
		m, err := r.deps.Markets.GetMarket(mkt)
		if err != nil {
			return rollback(err)
		}
		if err := m.MarkDisputed(r.addr); err != nil {
			return rollback(err)
		}
		rec.Disputed = true
		rec.Status = domain.ResolutionDisputed
		submitted()
		r.emit(domain.EventCommunityDisputeFlagged, mkt, caller, map[string]any{
			"agree":    agree,
			"disagree": disagree,
		})
	default:
		submitted()
	}
	return nil
}

// reaches compares count*100 with threshold*total.
func reaches(count uint64, threshold int64, total *big.Int) int {
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(count), big.NewInt(100))
	rhs := new(big.Int).Mul(big.NewInt(threshold), total)
	return lhs.Cmp(rhs)
}

// FinalizeResolution settles an undisputed record once its window has
// closed, at the proposed outcome.
func (r *Manager) FinalizeResolution(ctx context.Context, caller, mkt common.Address) error {
	if !r.mayFinalize(caller) {
		return domain.ErrUnauthorized
	}
	rec, err := r.finalizable(mkt)
	if err != nil {
		return err
	}
	return r.finalize(ctx, caller, rec, rec.ProposedOutcome)
}

func (r *Manager) mayFinalize(caller common.Address) bool {
	return r.hasRole(domain.RoleAdmin, caller) || r.hasRole(domain.RoleResolver, caller) ||
		r.hasRole(domain.RoleBackend, caller) || r.hasRole(domain.RoleOperator, caller)
}

func (r *Manager) finalizable(mkt common.Address) (*domain.ResolutionRecord, error) {
	rec, ok := r.records[mkt]
	if !ok {
		return nil, domain.ErrNoResolutionFound
	}
	if rec.Status == domain.ResolutionFinalized {
		return nil, domain.ErrMarketAlreadyResolved
	}
	if rec.Disputed {
		return nil, domain.ErrResolutionDisputed
	}
	if !r.now().After(rec.DisputeWindowEnd) {
		return nil, domain.ErrDisputeWindowActive
	}
	return rec, nil
}

// finalize locks outcome into the market and closes the record.
func (r *Manager) finalize(ctx context.Context, caller common.Address, rec *domain.ResolutionRecord, outcome domain.Outcome) error {
	m, err := r.deps.Markets.GetMarket(rec.Market)
	if err != nil {
		return err
	}
	result, err := m.Finalize(ctx, r.addr, outcome)
	if err != nil {
		return err
	}
	now := r.now()
	rec.FinalOutcome = result
	rec.Status = domain.ResolutionFinalized
	rec.CommunityActive = false
	rec.ResolvedAt = &now
	r.emit(domain.EventResolutionFinalized, rec.Market, caller, map[string]any{
		"outcome":  outcome.String(),
		"result":   result.String(),
		"disputed": rec.Disputed,
	})
	return nil
}

func (r *Manager) now() time.Time { return r.deps.Clock() }

func (r *Manager) hasRole(role domain.Role, p common.Address) bool {
	return r.deps.Access != nil && r.deps.Access.HasRole(role, p)
}

func (r *Manager) sanitize(s string) string {
	return strings.TrimSpace(r.policy.Sanitize(s))
}

func (r *Manager) emit(t domain.EventType, mkt, actor common.Address, data map[string]any) {
	r.deps.Events.Emit(domain.Event{Type: t, Market: mkt, Actor: actor, Data: data, Timestamp: r.now()})
}

func (r *Manager) enter() (func(), error) {
	if r.entered {
		return nil, domain.ErrReentrantCall
	}
	r.entered = true
	return func() { r.entered = false }, nil
}
