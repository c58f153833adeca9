package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Upsert writes the record. Queryable fields are mirrored into columns; the
// full record lives in JSONB.
func (s *ResolutionStore) Upsert(ctx context.Context, rec domain.ResolutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: marshal resolution: %w", err)
	}
	const query = `
		INSERT INTO resolutions (
			market, status, proposed_outcome, final_outcome, proposer,
			proposed_at, dispute_window_end, record, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (market) DO UPDATE SET
			status             = EXCLUDED.status,
			proposed_outcome   = EXCLUDED.proposed_outcome,
			final_outcome      = EXCLUDED.final_outcome,
			dispute_window_end = EXCLUDED.dispute_window_end,
			record             = EXCLUDED.record,
			updated_at         = NOW()`

	_, err = s.pool.Exec(ctx, query,
		addr(rec.Market), rec.Status.String(), int16(rec.ProposedOutcome), int16(rec.FinalOutcome),
		addr(rec.Proposer), rec.ProposedAt, rec.DisputeWindowEnd, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert resolution %s: %w", rec.Market.Hex(), err)
	}
	return nil
}

func scanRecord(row pgx.Row) (domain.ResolutionRecord, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.ResolutionRecord{}, err
	}
	var rec domain.ResolutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ResolutionRecord{}, fmt.Errorf("postgres: unmarshal resolution: %w", err)
	}
	return rec, nil
}

// Get retrieves the record for a market.
func (s *ResolutionStore) Get(ctx context.Context, mkt common.Address) (domain.ResolutionRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT record FROM resolutions WHERE market = $1`, addr(mkt)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionRecord{}, domain.ErrNotFound
		}
		return domain.ResolutionRecord{}, fmt.Errorf("postgres: get resolution %s: %w", mkt.Hex(), err)
	}
	return rec, nil
}

// ListByStatus returns records with the given status, oldest proposal first.
func (s *ResolutionStore) ListByStatus(ctx context.Context, status domain.ResolutionStatus, opts domain.ListOpts) ([]domain.ResolutionRecord, error) {
	q := newQuery(`SELECT record FROM resolutions WHERE 1=1`)
	q.and("status = %s", status.String())
	q.window("proposed_at", opts)
	q.page("proposed_at ASC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	var out []domain.ResolutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list resolutions rows: %w", err)
	}
	return out, nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
