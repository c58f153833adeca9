// Package payout is the in-process settlement rail. Every value movement out
// of an engine component goes through a Book, which records it and hands it
// to the transfer store.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// ErrRecipientFrozen is returned for transfers to a frozen recipient.
var ErrRecipientFrozen = errors.New("payout: recipient frozen")

// Book records outgoing transfers. Frozen recipients are refused, which
// lets operators quarantine an address without blocking anyone else's
// settlement.
type Book struct {
	mu      sync.Mutex
	store   domain.TransferStore
	pending []domain.Transfer
	paid    map[common.Address]decimal.Decimal
	frozen  map[common.Address]bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewBook creates a Book. store may be nil, in which case transfers are only
// kept in memory.
func NewBook(store domain.TransferStore, now func() time.Time, logger *slog.Logger) *Book {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		store:  store,
		paid:   make(map[common.Address]decimal.Decimal),
		frozen: make(map[common.Address]bool),
		now:    now,
		logger: logger.With(slog.String("component", "payout")),
	}
}

// Transfer records amount moving from one principal to another.
func (b *Book) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("payout: %w", err)
	}
	if to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen[to] {
		return ErrRecipientFrozen
	}
	t := domain.Transfer{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: b.now().UTC(),
	}
	b.pending = append(b.pending, t)
	b.paid[to] = b.paid[to].Add(amount)
	return nil
}

// Flush writes pending transfers to the store. Transfers that fail to write
// stay pending for the next flush.
func (b *Book) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if b.store == nil || len(pending) == 0 {
		return nil
	}
	for i, t := range pending {
		if err := b.store.Insert(ctx, t); err != nil {
			b.mu.Lock()
			b.pending = append(pending[i:], b.pending...)
			b.mu.Unlock()
			return fmt.Errorf("payout: flush transfer %s: %w", t.ID, err)
		}
	}
	return nil
}

// Freeze refuses future transfers to addr until Unfreeze.
func (b *Book) Freeze(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[addr] = true
	b.logger.Warn("recipient frozen", slog.String("address", addr.Hex()))
}

func (b *Book) Unfreeze(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frozen, addr)
}

// Paid returns everything transferred to addr since start.
func (b *Book) Paid(addr common.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paid[addr]
}

// Pending returns how many transfers await a flush.
func (b *Book) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
