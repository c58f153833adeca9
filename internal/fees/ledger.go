// Package fees implements the fee ledger: it splits settlement fees into
// protocol, creator, staker and treasury buckets and records reward claims.
package fees

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/params"
	"github.com/alanyoungcy/marketengine/internal/registry"
)

// Deps are the collaborators the ledger calls into.
type Deps struct {
	Registry  *registry.Registry
	Access    domain.AccessGate
	Params    params.Source
	Transfers domain.Transferer
	Events    domain.EventSink
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Ledger holds collected fees until they are claimed or paid out. It is not
// safe for concurrent use.
type Ledger struct {
	addr common.Address
	deps Deps
	log  *slog.Logger

	treasury            decimal.Decimal
	stakerPool          decimal.Decimal
	protocol            decimal.Decimal
	totalFeesCollected  decimal.Decimal
	totalRewardsClaimed decimal.Decimal

	records          map[common.Address]*domain.FeeRecord
	unclaimedCreator map[common.Address]decimal.Decimal
	claims           map[common.Address]map[common.Address]domain.RewardClaim
	claimerTotals    map[common.Address]decimal.Decimal

	entered bool
}

// New creates an empty ledger at addr.
func New(addr common.Address, deps Deps) *Ledger {
	if deps.Events == nil {
		deps.Events = domain.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Ledger{
		addr:             addr,
		deps:             deps,
		log:              deps.Logger.With(slog.String("component", "fees")),
		records:          make(map[common.Address]*domain.FeeRecord),
		unclaimedCreator: make(map[common.Address]decimal.Decimal),
		claims:           make(map[common.Address]map[common.Address]domain.RewardClaim),
		claimerTotals:    make(map[common.Address]decimal.Decimal),
	}
}

func (l *Ledger) Address() common.Address { return l.addr }

// Split divides amount by dist. Each bucket is truncated to 18 decimals and
// the remainder is credited to protocol, so the buckets sum to amount.
func Split(amount decimal.Decimal, dist domain.FeeDistribution) (protocol, creator, staker, treasury decimal.Decimal) {
	total := dist.Total()
	if total <= 0 {
		return amount, decimal.Zero, decimal.Zero, decimal.Zero
	}
	den := decimal.NewFromInt(total)
	creator = domain.MulDivDown(amount, decimal.NewFromInt(dist.CreatorBps), den)
	staker = domain.MulDivDown(amount, decimal.NewFromInt(dist.StakerBps), den)
	treasury = domain.MulDivDown(amount, decimal.NewFromInt(dist.TreasuryBps), den)
	protocol = amount.Sub(creator).Sub(staker).Sub(treasury)
	return protocol, creator, staker, treasury
}

func (l *Ledger) checkCollect(mkt common.Address, amount, payment decimal.Decimal) error {
	if mkt == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if !payment.Equal(amount) {
		return domain.ErrIncorrectPayment
	}
	return nil
}

// CollectFees records a settlement fee paid by mkt.
func (l *Ledger) CollectFees(_ context.Context, mkt common.Address, amount, payment decimal.Decimal) error {
	leave, err := l.enter()
	if err != nil {
		return err
	}
	defer leave()

	if err := l.checkCollect(mkt, amount, payment); err != nil {
		return err
	}
	l.collect(mkt, amount, l.deps.Params.Snapshot().Distribution)
	return nil
}

func (l *Ledger) collect(mkt common.Address, amount decimal.Decimal, dist domain.FeeDistribution) {
	protocol, creator, staker, treasury := Split(amount, dist)

	rec, ok := l.records[mkt]
	if !ok {
		rec = &domain.FeeRecord{Market: mkt}
		l.records[mkt] = rec
	}
	rec.TotalFees = rec.TotalFees.Add(amount)
	rec.ProtocolFees = rec.ProtocolFees.Add(protocol)
	rec.CreatorFees = rec.CreatorFees.Add(creator)
	rec.StakerFees = rec.StakerFees.Add(staker)
	rec.TreasuryFees = rec.TreasuryFees.Add(treasury)
	rec.LastCollected = l.deps.Clock()

	l.protocol = l.protocol.Add(protocol)
	l.stakerPool = l.stakerPool.Add(staker)
	l.treasury = l.treasury.Add(treasury)
	l.unclaimedCreator[mkt] = l.unclaimedCreator[mkt].Add(creator)
	l.totalFeesCollected = l.totalFeesCollected.Add(amount)

	l.emit(domain.EventFeesCollected, mkt, mkt, map[string]any{
		"amount":   amount.String(),
		"protocol": protocol.String(),
		"creator":  creator.String(),
		"staker":   staker.String(),
		"treasury": treasury.String(),
	})
}

// BatchCollectFees records several fees at once. Every item is validated
// before any is applied.
func (l *Ledger) BatchCollectFees(_ context.Context, markets []common.Address, amounts, payments []decimal.Decimal) error {
	leave, err := l.enter()
	if err != nil {
		return err
	}
	defer leave()

	if len(markets) != len(amounts) || len(markets) != len(payments) {
		return domain.ErrArrayLengthMismatch
	}
	for i := range markets {
		if err := l.checkCollect(markets[i], amounts[i], payments[i]); err != nil {
			return fmt.Errorf("fees: item %d: %w", i, err)
		}
	}
	dist := l.deps.Params.Snapshot().Distribution
	for i := range markets {
		l.collect(markets[i], amounts[i], dist)
	}
	return nil
}

// ClaimCreatorFees pays the creator of mkt the creator share owed to it.
func (l *Ledger) ClaimCreatorFees(ctx context.Context, caller, mkt common.Address) (decimal.Decimal, error) {
	leave, err := l.enter()
	if err != nil {
		return decimal.Zero, err
	}
	defer leave()

	creator, err := l.creatorOf(mkt)
	if err != nil {
		return decimal.Zero, err
	}
	if caller != creator {
		return decimal.Zero, domain.ErrUnauthorized
	}
	owed := l.unclaimedCreator[mkt]
	if !owed.IsPositive() {
		return decimal.Zero, domain.ErrNoFeesToCollect
	}
	l.unclaimedCreator[mkt] = decimal.Zero
	if err := l.deps.Transfers.Transfer(ctx, l.addr, caller, owed); err != nil {
		l.unclaimedCreator[mkt] = owed
		return decimal.Zero, fmt.Errorf("fees: creator payout: %v: %w", err, domain.ErrTransferFailed)
	}
	l.emit(domain.EventCreatorFeesClaimed, mkt, caller, map[string]any{"amount": owed.String()})
	return owed, nil
}

func (l *Ledger) creatorOf(mkt common.Address) (common.Address, error) {
	if l.deps.Registry == nil {
		return common.Address{}, domain.ErrContractNotFound
	}
	lookup, err := registry.Resolve[domain.CreatorLookup](l.deps.Registry, registry.KeyMarketFactory)
	if err != nil {
		return common.Address{}, err
	}
	return lookup.CreatorOf(mkt)
}

// DistributeStakerRewards pays amount from the staker pool. ADMIN only.
func (l *Ledger) DistributeStakerRewards(ctx context.Context, caller, staker common.Address, amount decimal.Decimal) error {
	return l.payOut(ctx, caller, staker, amount, &l.stakerPool, domain.EventStakerRewardsDistributed)
}

// WithdrawTreasury pays amount from the treasury. ADMIN only.
func (l *Ledger) WithdrawTreasury(ctx context.Context, caller, to common.Address, amount decimal.Decimal) error {
	return l.payOut(ctx, caller, to, amount, &l.treasury, domain.EventTreasuryWithdrawal)
}

func (l *Ledger) payOut(ctx context.Context, caller, to common.Address, amount decimal.Decimal, bucket *decimal.Decimal, evt domain.EventType) error {
	if !l.isAdmin(caller) {
		return domain.ErrUnauthorized
	}
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if amount.GreaterThan(*bucket) {
		return domain.ErrInsufficientTreasuryBalance
	}
	leave, err := l.enter()
	if err != nil {
		return err
	}
	defer leave()

	before := *bucket
	*bucket = before.Sub(amount)
	if err := l.deps.Transfers.Transfer(ctx, l.addr, to, amount); err != nil {
		*bucket = before
		return fmt.Errorf("fees: %s: %v: %w", evt, err, domain.ErrTransferFailed)
	}
	l.emit(evt, common.Address{}, caller, map[string]any{
		"recipient": to.Hex(),
		"amount":    amount.String(),
	})
	return nil
}

// DepositTreasury credits amount to the treasury. Dispute bonds and held
// funds arrive here.
func (l *Ledger) DepositTreasury(_ context.Context, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	l.treasury = l.treasury.Add(amount)
	l.emit(domain.EventTreasuryDeposit, common.Address{}, from, map[string]any{"amount": amount.String()})
	return nil
}

// GetFeeDistribution returns the split currently read from the parameters.
func (l *Ledger) GetFeeDistribution() domain.FeeDistribution {
	return l.deps.Params.Snapshot().Distribution
}

// GetMarketFees returns the cumulative fee record of mkt.
func (l *Ledger) GetMarketFees(mkt common.Address) domain.FeeRecord {
	if rec, ok := l.records[mkt]; ok {
		return *rec
	}
	return domain.FeeRecord{Market: mkt}
}

func (l *Ledger) GetUnclaimedCreatorFees(mkt common.Address) decimal.Decimal {
	return l.unclaimedCreator[mkt]
}

func (l *Ledger) TreasuryBalance() decimal.Decimal { return l.treasury }

func (l *Ledger) StakerPool() decimal.Decimal { return l.stakerPool }

func (l *Ledger) ProtocolBalance() decimal.Decimal { return l.protocol }

func (l *Ledger) TotalFeesCollected() decimal.Decimal { return l.totalFeesCollected }

// Balances returns every pooled balance at once.
func (l *Ledger) Balances() domain.LedgerBalances {
	return domain.LedgerBalances{
		Treasury:            l.treasury,
		StakerPool:          l.stakerPool,
		Protocol:            l.protocol,
		TotalFeesCollected:  l.totalFeesCollected,
		TotalRewardsClaimed: l.totalRewardsClaimed,
	}
}

func (l *Ledger) isAdmin(p common.Address) bool {
	return l.deps.Access != nil && l.deps.Access.HasRole(domain.RoleAdmin, p)
}

func (l *Ledger) emit(t domain.EventType, mkt, actor common.Address, data map[string]any) {
	l.deps.Events.Emit(domain.Event{Type: t, Market: mkt, Actor: actor, Data: data, Timestamp: l.deps.Clock()})
}

func (l *Ledger) enter() (func(), error) {
	if l.entered {
		return nil, domain.ErrReentrantCall
	}
	l.entered = true
	return func() { l.entered = false }, nil
}

var (
	_ domain.FeeCollector      = (*Ledger)(nil)
	_ domain.TreasuryDepositor = (*Ledger)(nil)
)
