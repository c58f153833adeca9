package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Insert records a completed transfer. Re-inserting the same ID is a no-op.
func (s *TransferStore) Insert(ctx context.Context, t domain.Transfer) error {
	const query = `
		INSERT INTO transfers (id, from_addr, to_addr, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, t.ID, addr(t.From), addr(t.To), t.Amount, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert transfer %s: %w", t.ID, err)
	}
	return nil
}

// ListByRecipient returns transfers to the address, newest first.
func (s *TransferStore) ListByRecipient(ctx context.Context, to common.Address, opts domain.ListOpts) ([]domain.Transfer, error) {
	q := newQuery(`SELECT id, from_addr, amount, created_at FROM transfers WHERE 1=1`)
	q.and("to_addr = %s", addr(to))
	q.window("created_at", opts)
	q.page("created_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t := domain.Transfer{To: to}
		var from string
		if err := rows.Scan(&t.ID, &from, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.From = common.HexToAddress(from)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transfers rows: %w", err)
	}
	return out, nil
}

var _ domain.TransferStore = (*TransferStore)(nil)
