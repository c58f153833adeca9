package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given connection pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// UpsertRecord writes the cumulative fee record of a market.
func (s *FeeStore) UpsertRecord(ctx context.Context, rec domain.FeeRecord) error {
	const query = `
		INSERT INTO fee_records (
			market, total_fees, protocol_fees, creator_fees,
			staker_fees, treasury_fees, last_collected
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market) DO UPDATE SET
			total_fees     = EXCLUDED.total_fees,
			protocol_fees  = EXCLUDED.protocol_fees,
			creator_fees   = EXCLUDED.creator_fees,
			staker_fees    = EXCLUDED.staker_fees,
			treasury_fees  = EXCLUDED.treasury_fees,
			last_collected = EXCLUDED.last_collected`

	_, err := s.pool.Exec(ctx, query,
		addr(rec.Market), rec.TotalFees, rec.ProtocolFees, rec.CreatorFees,
		rec.StakerFees, rec.TreasuryFees, rec.LastCollected,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert fee record %s: %w", rec.Market.Hex(), err)
	}
	return nil
}

// GetRecord returns the fee record of a market.
func (s *FeeStore) GetRecord(ctx context.Context, mkt common.Address) (domain.FeeRecord, error) {
	rec := domain.FeeRecord{Market: mkt}
	err := s.pool.QueryRow(ctx, `
		SELECT total_fees, protocol_fees, creator_fees, staker_fees, treasury_fees, last_collected
		FROM fee_records WHERE market = $1`, addr(mkt),
	).Scan(&rec.TotalFees, &rec.ProtocolFees, &rec.CreatorFees, &rec.StakerFees, &rec.TreasuryFees, &rec.LastCollected)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeeRecord{}, domain.ErrNotFound
		}
		return domain.FeeRecord{}, fmt.Errorf("postgres: get fee record %s: %w", mkt.Hex(), err)
	}
	return rec, nil
}

// InsertRewardClaim records a processed reward claim. A second insert for
// the same market and claimer is ignored.
func (s *FeeStore) InsertRewardClaim(ctx context.Context, c domain.RewardClaim) error {
	const query = `
		INSERT INTO reward_claims (market, claimer, amount, outcome, claimed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market, claimer) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, addr(c.Market), addr(c.Claimer), c.Amount, int16(c.Outcome), c.ClaimedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert reward claim: %w", err)
	}
	return nil
}

// ListRewardClaims returns a claimer's reward claims, newest first.
func (s *FeeStore) ListRewardClaims(ctx context.Context, claimer common.Address, opts domain.ListOpts) ([]domain.RewardClaim, error) {
	q := newQuery(`SELECT market, amount, outcome, claimed_at FROM reward_claims WHERE 1=1`)
	q.and("claimer = %s", addr(claimer))
	q.window("claimed_at", opts)
	q.page("claimed_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reward claims: %w", err)
	}
	defer rows.Close()

	var out []domain.RewardClaim
	for rows.Next() {
		c := domain.RewardClaim{Claimer: claimer}
		var mkt string
		var outcome int16
		if err := rows.Scan(&mkt, &c.Amount, &outcome, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan reward claim: %w", err)
		}
		c.Market = common.HexToAddress(mkt)
		c.Outcome = domain.Outcome(outcome)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list reward claims rows: %w", err)
	}
	return out, nil
}

var _ domain.FeeStore = (*FeeStore)(nil)
