// Package service wires the engine components together and serializes every
// operation against them. After each operation it drains the emitted events,
// persists the touched state, refreshes the cache and publishes the events.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/access"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/factory"
	"github.com/alanyoungcy/marketengine/internal/fees"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/payout"
	"github.com/alanyoungcy/marketengine/internal/pricing"
	"github.com/alanyoungcy/marketengine/internal/registry"
	"github.com/alanyoungcy/marketengine/internal/resolution"
)

// Bus channels.
const (
	EventChannel = "engine:events"
	EventStream  = "engine:events:stream"
)

// Names under which singleton state is saved.
const (
	stateAccess     = "access"
	stateParams     = "params"
	stateFactory    = "factory"
	stateFees       = "fees"
	stateResolution = "resolution"
	// stateRevision counts commits. A process whose revision is behind the
	// stored one reloads before it acts.
	stateRevision = "revision"
)

// stateLockKey serializes operations across processes in shared mode.
const stateLockKey = "engine:state"

// Config fixes the engine identity.
type Config struct {
	Deployer     common.Address
	Operator     common.Address
	Resolvers    []common.Address
	DefaultCurve domain.PricingKind
	Overrides    map[string]decimal.Decimal
	LockTTL      time.Duration
	// Shared marks the stores as written by other engine processes too, such
	// as a keeper running beside the API server. Every operation then runs
	// under one distributed state lock and first reloads whatever another
	// process committed since this engine last looked.
	Shared bool
}

// Stores are the optional persistence adapters. A nil store is skipped.
type Stores struct {
	Markets     domain.MarketStore
	Resolutions domain.ResolutionStore
	Fees        domain.FeeStore
	Events      domain.EventStore
	Transfers   domain.TransferStore
	State       domain.StateStore
}

// Alerter is told about resilience events.
type Alerter interface {
	Alert(ctx context.Context, e domain.Event)
}

// Deps are the engine's infrastructure. Every field is optional.
type Deps struct {
	Stores  Stores
	Cache   domain.MarketCache
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Alerter Alerter
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Engine owns every component. All methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	events   *domain.EventBuffer
	book     *payout.Book
	gate     *access.Gate
	params   *params.Store
	registry *registry.Registry
	factory  *factory.Factory
	ledger   *fees.Ledger
	rm       *resolution.Manager

	// revision is the last commit this engine wrote or loaded.
	revision uint64

	marketDeps market.Deps
}

// New builds and wires a fresh engine. Call Load to restore persisted state.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Deployer == (common.Address{}) {
		return nil, fmt.Errorf("service: deployer: %w", domain.ErrZeroAddress)
	}
	if cfg.DefaultCurve == "" {
		cfg.DefaultCurve = domain.PricingParimutuel
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "engine")),
		now:    deps.Clock,
		events: &domain.EventBuffer{},
	}
	e.gate = access.New(cfg.Deployer, e.events, e.now)
	e.params = params.New(e.gate, e.events, e.now)
	e.registry = registry.New(e.gate, e.events, e.now)
	e.book = payout.NewBook(deps.Stores.Transfers, e.now, deps.Logger)
	e.marketDeps = market.Deps{
		Registry:  e.registry,
		Access:    e.gate,
		Params:    e.params,
		Transfers: e.book,
		Events:    e.events,
		Clock:     e.now,
		Logger:    deps.Logger,
	}
	e.factory = factory.New(domain.ComponentAddress(registry.KeyMarketFactory), e.marketDeps)
	e.ledger = fees.New(domain.ComponentAddress(registry.KeyRewardDistributor), fees.Deps{
		Registry:  e.registry,
		Access:    e.gate,
		Params:    e.params,
		Transfers: e.book,
		Events:    e.events,
		Clock:     e.now,
		Logger:    deps.Logger,
	})
	e.rm = resolution.New(domain.ComponentAddress(registry.KeyResolutionManager), resolution.Deps{
		Registry:  e.registry,
		Access:    e.gate,
		Params:    e.params,
		Markets:   e.factory,
		Transfers: e.book,
		Events:    e.events,
		Clock:     e.now,
		Logger:    deps.Logger,
	})

	if err := e.install(); err != nil {
		return nil, err
	}
	if err := e.bootstrap(); err != nil {
		return nil, err
	}
	if err := e.factory.SetDefaultCurve(cfg.Deployer, cfg.DefaultCurve); err != nil {
		return nil, fmt.Errorf("service: default curve: %w", err)
	}
	e.events.Discard()
	return e, nil
}

// install registers every component under its well-known key.
func (e *Engine) install() error {
	lmsr, err := pricing.NewLMSR(e.params.Snapshot().LMSRLiquidity, e.params.Snapshot().LMSRVirtualShares)
	if err != nil {
		return fmt.Errorf("service: lmsr curve: %w", err)
	}
	components := []struct {
		key  string
		impl any
	}{
		{registry.KeyAccessControl, e.gate},
		{registry.KeyParameterStorage, e.params},
		{registry.KeyMarketFactory, e.factory},
		{registry.KeyRewardDistributor, e.ledger},
		{registry.KeyResolutionManager, e.rm},
		{registry.KeyMarketTemplate, e.factory},
		{registry.KeyParimutuelCurve, pricing.Parimutuel{}},
		{registry.KeyLMSRCurve, lmsr},
	}
	for _, c := range components {
		if err := e.registry.Install(e.cfg.Deployer, c.key, domain.ComponentAddress(c.key), 1, c.impl); err != nil {
			return fmt.Errorf("service: install %s: %w", c.key, err)
		}
	}
	return nil
}

// bootstrap grants configured roles and applies parameter overrides. It runs
// again after Load so configuration wins over persisted state.
func (e *Engine) bootstrap() error {
	d := e.cfg.Deployer
	if op := e.cfg.Operator; op != (common.Address{}) {
		if err := e.gate.GrantRole(d, domain.RoleBackend, op); err != nil {
			return fmt.Errorf("service: grant operator: %w", err)
		}
	}
	for _, r := range e.cfg.Resolvers {
		if err := e.gate.GrantRole(d, domain.RoleResolver, r); err != nil {
			return fmt.Errorf("service: grant resolver %s: %w", r.Hex(), err)
		}
	}
	if len(e.cfg.Overrides) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.cfg.Overrides))
	for k := range e.cfg.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]decimal.Decimal, len(keys))
	for i, k := range keys {
		values[i] = e.cfg.Overrides[k]
	}
	if err := e.params.BatchSetParameters(d, keys, values); err != nil {
		return fmt.Errorf("service: parameter overrides: %w", err)
	}
	return nil
}

// Load restores persisted state and re-applies the configured roles and
// overrides on top of it. Missing state is not an error.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deps.Stores.State == nil {
		return nil
	}
	if err := e.restore(ctx); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "engine state restored",
		slog.Int("markets", e.factory.MarketCount()),
		slog.Int("pending_resolutions", len(e.rm.PendingResolutions())),
		slog.Uint64("revision", e.revision),
	)
	return nil
}

// storedRevision reads the commit counter. A store nobody has committed to
// is at revision zero.
func (e *Engine) storedRevision(ctx context.Context) (uint64, error) {
	var rev uint64
	if _, err := loadJSON(ctx, e.deps.Stores.State, stateRevision, &rev); err != nil {
		return 0, err
	}
	return rev, nil
}

// sync reloads state when another process committed since this engine last
// did. The caller holds e.mu.
func (e *Engine) sync(ctx context.Context) error {
	if !e.cfg.Shared || e.deps.Stores.State == nil {
		return nil
	}
	rev, err := e.storedRevision(ctx)
	if err != nil {
		return err
	}
	if rev <= e.revision {
		return nil
	}
	if err := e.restore(ctx); err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "engine state reloaded", slog.Uint64("revision", e.revision))
	return nil
}

// view takes the engine lock for a read, reloading shared state first. A
// failed reload is logged and the read is served from memory.
func (e *Engine) view() func() {
	e.mu.Lock()
	if err := e.sync(context.Background()); err != nil {
		e.logger.Warn("engine: reload before read failed", slog.String("error", err.Error()))
	}
	return e.mu.Unlock
}

// restore replaces every component's state with the stored one, then
// re-applies configuration. The caller holds e.mu.
func (e *Engine) restore(ctx context.Context) error {
	st := e.deps.Stores.State
	rev, err := e.storedRevision(ctx)
	if err != nil {
		return err
	}

	var gateState access.State
	if ok, err := loadJSON(ctx, st, stateAccess, &gateState); err != nil {
		return err
	} else if ok {
		e.gate.Restore(gateState)
	}
	var paramState params.State
	if ok, err := loadJSON(ctx, st, stateParams, &paramState); err != nil {
		return err
	} else if ok {
		e.params.Restore(paramState)
	}
	var feeState fees.State
	if ok, err := loadJSON(ctx, st, stateFees, &feeState); err != nil {
		return err
	} else if ok {
		e.ledger.Restore(feeState)
	}
	var rmState resolution.State
	if ok, err := loadJSON(ctx, st, stateResolution, &rmState); err != nil {
		return err
	} else if ok {
		e.rm.Restore(rmState)
	}

	var markets []*market.Market
	if ms := e.deps.Stores.Markets; ms != nil {
		raw, err := ms.LoadStates(ctx)
		if err != nil {
			return fmt.Errorf("service: load market states: %w", err)
		}
		for _, data := range raw {
			var mst market.State
			if err := json.Unmarshal(data, &mst); err != nil {
				return fmt.Errorf("service: decode market state: %w", err)
			}
			m, err := market.Restore(mst, e.marketDeps)
			if err != nil {
				return fmt.Errorf("service: restore market %s: %w", mst.Address.Hex(), err)
			}
			markets = append(markets, m)
		}
	}
	var factoryState factory.State
	if ok, err := loadJSON(ctx, st, stateFactory, &factoryState); err != nil {
		return err
	} else if ok {
		e.factory.Restore(factoryState, markets)
	}

	if err := e.bootstrap(); err != nil {
		return err
	}
	e.events.Discard()
	e.revision = rev
	return nil
}

func loadJSON(ctx context.Context, st domain.StateStore, name string, dst any) (bool, error) {
	data, err := st.Load(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("service: load %s state: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("service: decode %s state: %w", name, err)
	}
	return true, nil
}

// exec runs fn under the engine lock and a distributed lock: the market lock
// when mkt is set, or the state lock for every operation in shared mode.
// Events of a failed operation are dropped except resilience events, which
// describe value parked by the failure. An operation that emitted nothing
// changed nothing and is not committed.
func (e *Engine) exec(ctx context.Context, mkt common.Address, op string, fn func() error) error {
	key := ""
	switch {
	case e.cfg.Shared:
		key = stateLockKey
	case mkt != (common.Address{}):
		key = lockKey(mkt)
	}
	if e.deps.Locks != nil && key != "" {
		unlock, err := e.deps.Locks.Acquire(ctx, key, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("service: %s: %w", op, err)
		}
		defer unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.sync(ctx); err != nil {
		return fmt.Errorf("service: %s: reload: %w", op, err)
	}

	err := fn()
	events := e.events.Drain()
	if err != nil {
		events = resilienceOnly(events)
	}
	if len(events) == 0 {
		return err
	}
	e.commit(ctx, mkt, events)
	return err
}

func lockKey(mkt common.Address) string {
	return "market:" + strings.ToLower(mkt.Hex())
}

func resilienceOnly(events []domain.Event) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Resilience() {
			out = append(out, ev)
		}
	}
	return out
}

// commit persists and publishes the outcome of one operation. Failures here
// are logged; the in-memory state is authoritative.
func (e *Engine) commit(ctx context.Context, mkt common.Address, events []domain.Event) {
	for i := range events {
		events[i].ID = uuid.NewString()
	}

	touched := map[common.Address]*market.Market{}
	mark := func(addr common.Address) {
		if addr == (common.Address{}) {
			return
		}
		if m, err := e.factory.GetMarket(addr); err == nil {
			touched[addr] = m
		}
	}
	mark(mkt)
	for _, ev := range events {
		mark(ev.Market)
	}

	e.persist(ctx, touched, events)
	e.refreshCache(ctx, touched)
	e.publish(ctx, events)

	if err := e.book.Flush(ctx); err != nil {
		e.logger.ErrorContext(ctx, "engine: flush transfers failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) persist(ctx context.Context, touched map[common.Address]*market.Market, events []domain.Event) {
	s := e.deps.Stores
	logErr := func(what string, err error) {
		e.logger.ErrorContext(ctx, "engine: persist failed",
			slog.String("what", what),
			slog.String("error", err.Error()),
		)
	}

	if s.State != nil {
		singletons := []struct {
			name  string
			state any
		}{
			{stateAccess, e.gate.Export()},
			{stateParams, e.params.Export()},
			{stateFactory, e.factory.Export()},
			{stateFees, e.ledger.Export()},
			{stateResolution, e.rm.Export()},
		}
		for _, c := range singletons {
			data, err := json.Marshal(c.state)
			if err == nil {
				err = s.State.Save(ctx, c.name, data)
			}
			if err != nil {
				logErr(c.name, err)
			}
		}
	}

	for addr, m := range touched {
		if s.Markets != nil {
			data, err := json.Marshal(m.Export())
			if err == nil {
				err = s.Markets.Upsert(ctx, m.View(), data)
			}
			if err != nil {
				logErr("market "+addr.Hex(), err)
			}
		}
		if s.Resolutions != nil {
			if rec, err := e.rm.GetResolution(addr); err == nil {
				if err := s.Resolutions.Upsert(ctx, rec); err != nil {
					logErr("resolution "+addr.Hex(), err)
				}
			}
		}
		if s.Fees != nil {
			rec := e.ledger.GetMarketFees(addr)
			if rec.TotalFees.IsPositive() {
				if err := s.Fees.UpsertRecord(ctx, rec); err != nil {
					logErr("fees "+addr.Hex(), err)
				}
			}
		}
	}

	if s.Fees != nil {
		for _, ev := range events {
			if ev.Type != domain.EventRewardClaimed {
				continue
			}
			claimer := common.HexToAddress(fmt.Sprint(ev.Data["claimer"]))
			if c, ok := e.ledger.ClaimOf(ev.Market, claimer); ok {
				if err := s.Fees.InsertRewardClaim(ctx, c); err != nil {
					logErr("reward claim", err)
				}
			}
		}
	}

	if s.Events != nil && len(events) > 0 {
		if err := s.Events.InsertBatch(ctx, events); err != nil {
			logErr("events", err)
		}
	}

	// The revision moves last so a process that sees it also sees the
	// state written above.
	if s.State != nil {
		data, err := json.Marshal(e.revision + 1)
		if err == nil {
			err = s.State.Save(ctx, stateRevision, data)
		}
		if err != nil {
			logErr(stateRevision, err)
			return
		}
		e.revision++
	}
}

func (e *Engine) refreshCache(ctx context.Context, touched map[common.Address]*market.Market) {
	if e.deps.Cache == nil {
		return
	}
	for addr, m := range touched {
		if err := e.deps.Cache.Set(ctx, m.View()); err != nil {
			e.logger.WarnContext(ctx, "engine: cache set failed",
				slog.String("market", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		if ev.Resilience() {
			e.logger.WarnContext(ctx, "engine: resilience event",
				slog.String("type", string(ev.Type)),
				slog.String("market", ev.Market.Hex()),
				slog.Any("data", ev.Data),
			)
			if e.deps.Alerter != nil {
				e.deps.Alerter.Alert(ctx, ev)
			}
		}
		if e.deps.Bus == nil {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := e.deps.Bus.Publish(ctx, EventChannel, payload); err != nil {
			e.logger.WarnContext(ctx, "engine: publish event failed", slog.String("error", err.Error()))
		}
		if err := e.deps.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
			e.logger.WarnContext(ctx, "engine: stream append failed", slog.String("error", err.Error()))
		}
	}
}

// Book exposes the payout book for operator tooling.
func (e *Engine) Book() *payout.Book { return e.book }
