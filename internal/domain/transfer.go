package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Transferer moves value out of an engine component to a principal. A
// transfer either completes or returns an error; it never partially applies.
// Implementations must honour ctx cancellation so callers can bound attempts.
type Transferer interface {
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// FeeCollector receives settlement fees from markets.
type FeeCollector interface {
	CollectFees(ctx context.Context, market common.Address, amount, payment decimal.Decimal) error
}

// TreasuryDepositor receives dispute bonds and other recovered value.
type TreasuryDepositor interface {
	DepositTreasury(ctx context.Context, from common.Address, amount decimal.Decimal) error
}

// CreatorLookup resolves the creator of a market.
type CreatorLookup interface {
	CreatorOf(market common.Address) (common.Address, error)
}

// Transfer is a recorded outgoing value movement.
type Transfer struct {
	ID        string          `json:"id"`
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
