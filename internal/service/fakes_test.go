package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

var errReverted = errors.New("ledger reverted")

// revertingLedger refuses every fee and deposit.
type revertingLedger struct{}

func (revertingLedger) CollectFees(context.Context, common.Address, decimal.Decimal, decimal.Decimal) error {
	return errReverted
}

func (revertingLedger) DepositTreasury(context.Context, common.Address, decimal.Decimal) error {
	return errReverted
}

type memState struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func (s *memState) Save(_ context.Context, component string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[component] = append([]byte(nil), state...)
	s.saves++
	return nil
}

func (s *memState) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memState) Load(_ context.Context, component string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[component]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

type memMarkets struct {
	mu     sync.Mutex
	views  map[common.Address]domain.MarketView
	states map[common.Address][]byte
	order  []common.Address
}

func (s *memMarkets) Upsert(_ context.Context, view domain.MarketView, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[view.Address]; !ok {
		s.order = append(s.order, view.Address)
	}
	s.views[view.Address] = view
	s.states[view.Address] = append([]byte(nil), state...)
	return nil
}

func (s *memMarkets) Get(_ context.Context, addr common.Address) (domain.MarketView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[addr]
	if !ok {
		return domain.MarketView{}, domain.ErrNotFound
	}
	return v, nil
}

func (s *memMarkets) List(_ context.Context, f domain.MarketFilter) ([]domain.MarketView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketView
	for _, a := range s.order {
		if matches(s.views[a], f) {
			out = append(out, s.views[a])
		}
	}
	return paginate(out, f.ListOpts), nil
}

func (s *memMarkets) LoadStates(context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.states[a])
	}
	return out, nil
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.order)), nil
}

type memResolutions struct {
	mu   sync.Mutex
	recs map[common.Address]domain.ResolutionRecord
}

func (s *memResolutions) Upsert(_ context.Context, rec domain.ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Market] = rec
	return nil
}

func (s *memResolutions) Get(_ context.Context, mkt common.Address) (domain.ResolutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[mkt]
	if !ok {
		return domain.ResolutionRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memResolutions) ListByStatus(_ context.Context, status domain.ResolutionStatus, _ domain.ListOpts) ([]domain.ResolutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionRecord
	for _, r := range s.recs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

type memFees struct {
	mu      sync.Mutex
	records map[common.Address]domain.FeeRecord
	claims  []domain.RewardClaim
}

func (s *memFees) UpsertRecord(_ context.Context, rec domain.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Market] = rec
	return nil
}

func (s *memFees) GetRecord(_ context.Context, mkt common.Address) (domain.FeeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[mkt]
	if !ok {
		return domain.FeeRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memFees) InsertRewardClaim(_ context.Context, c domain.RewardClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, c)
	return nil
}

func (s *memFees) ListRewardClaims(_ context.Context, claimer common.Address, _ domain.ListOpts) ([]domain.RewardClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RewardClaim
	for _, c := range s.claims {
		if c.Claimer == claimer {
			out = append(out, c)
		}
	}
	return out, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *memEvents) InsertBatch(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memEvents) ListByMarket(_ context.Context, mkt common.Address, _ domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Market == mkt {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEvents) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Timestamp.Before(before) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEvents) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func (s *memEvents) count(t domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type memTransfers struct {
	mu        sync.Mutex
	transfers []domain.Transfer
}

func (s *memTransfers) Insert(_ context.Context, t domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, t)
	return nil
}

func (s *memTransfers) ListByRecipient(_ context.Context, to common.Address, _ domain.ListOpts) ([]domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transfer
	for _, t := range s.transfers {
		if t.To == to {
			out = append(out, t)
		}
	}
	return out, nil
}

type memCache struct {
	mu    sync.Mutex
	views map[common.Address]domain.MarketView
	hits  int
}

func (c *memCache) Set(_ context.Context, v domain.MarketView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[v.Address] = v
	return nil
}

func (c *memCache) Get(_ context.Context, addr common.Address) (domain.MarketView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[addr]
	if !ok {
		return domain.MarketView{}, domain.ErrNotFound
	}
	c.hits++
	return v, nil
}

func (c *memCache) Invalidate(_ context.Context, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, addr)
	return nil
}

type memLocks struct {
	mu       sync.Mutex
	acquired []string
	fail     bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream[stream] = append(b.stream[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Event
}

func (a *recordingAlerter) Alert(_ context.Context, e domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, e)
}
