package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	ListOpts
	State    *MarketState
	Category string
	Creator  *common.Address
}

// MarketStore persists market read models alongside the serialized ledger
// used to rebuild the engine on start.
type MarketStore interface {
	Upsert(ctx context.Context, view MarketView, state []byte) error
	Get(ctx context.Context, addr common.Address) (MarketView, error)
	List(ctx context.Context, filter MarketFilter) ([]MarketView, error)
	LoadStates(ctx context.Context) ([][]byte, error)
	Count(ctx context.Context) (int64, error)
}

// ResolutionStore persists resolution records.
type ResolutionStore interface {
	Upsert(ctx context.Context, rec ResolutionRecord) error
	Get(ctx context.Context, market common.Address) (ResolutionRecord, error)
	ListByStatus(ctx context.Context, status ResolutionStatus, opts ListOpts) ([]ResolutionRecord, error)
}

// FeeStore persists per-market fee records and processed reward claims.
type FeeStore interface {
	UpsertRecord(ctx context.Context, rec FeeRecord) error
	GetRecord(ctx context.Context, market common.Address) (FeeRecord, error)
	InsertRewardClaim(ctx context.Context, claim RewardClaim) error
	ListRewardClaims(ctx context.Context, claimer common.Address, opts ListOpts) ([]RewardClaim, error)
}

// EventStore is the append-only engine event log.
type EventStore interface {
	InsertBatch(ctx context.Context, events []Event) error
	ListByMarket(ctx context.Context, market common.Address, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TransferStore records completed outgoing transfers.
type TransferStore interface {
	Insert(ctx context.Context, t Transfer) error
	ListByRecipient(ctx context.Context, to common.Address, opts ListOpts) ([]Transfer, error)
}

// StateStore keeps serialized singleton component state keyed by component
// name.
type StateStore interface {
	Save(ctx context.Context, component string, state []byte) error
	Load(ctx context.Context, component string) ([]byte, error)
}
