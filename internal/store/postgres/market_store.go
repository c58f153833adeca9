package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Each row carries
// the read model in columns and the serialized market ledger in JSONB.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a market view together with its ledger state.
func (s *MarketStore) Upsert(ctx context.Context, v domain.MarketView, state []byte) error {
	const query = `
		INSERT INTO markets (
			address, question, description, category, outcome_1, outcome_2,
			creator, resolution_time, state, result, rejected, pricing,
			template_version, pool_1, pool_2, total_pool, shares_1, shares_2,
			odds_1, odds_2, fees_collected, accumulated_fees, bettor_count,
			created_at, resolved_at, ledger, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23,
			$24, $25, $26, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			state            = EXCLUDED.state,
			result           = EXCLUDED.result,
			rejected         = EXCLUDED.rejected,
			pool_1           = EXCLUDED.pool_1,
			pool_2           = EXCLUDED.pool_2,
			total_pool       = EXCLUDED.total_pool,
			shares_1         = EXCLUDED.shares_1,
			shares_2         = EXCLUDED.shares_2,
			odds_1           = EXCLUDED.odds_1,
			odds_2           = EXCLUDED.odds_2,
			fees_collected   = EXCLUDED.fees_collected,
			accumulated_fees = EXCLUDED.accumulated_fees,
			bettor_count     = EXCLUDED.bettor_count,
			resolved_at      = EXCLUDED.resolved_at,
			ledger           = EXCLUDED.ledger,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		addr(v.Address), v.Question, v.Description, v.Category, v.Outcome1, v.Outcome2,
		addr(v.Creator), v.ResolutionTime, v.State.String(), int16(v.Result), v.Rejected, string(v.Pricing),
		int64(v.TemplateVersion), v.Pool1, v.Pool2, v.TotalPool, v.Shares1, v.Shares2,
		v.Odds1, v.Odds2, v.FeesCollected, v.AccumulatedFees, v.BettorCount,
		v.CreatedAt, v.ResolvedAt, state,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", v.Address.Hex(), err)
	}
	return nil
}

const marketCols = `address, question, description, category, outcome_1, outcome_2,
	creator, resolution_time, state, result, rejected, pricing,
	template_version, pool_1, pool_2, total_pool, shares_1, shares_2,
	odds_1, odds_2, fees_collected, accumulated_fees, bettor_count,
	created_at, resolved_at`

// scanMarket scans a single market row into a domain.MarketView.
func scanMarket(row pgx.Row) (domain.MarketView, error) {
	var (
		v                domain.MarketView
		address, creator string
		state, pricing   string
		result           int16
		templateVersion  int64
		resolvedAt       *time.Time
	)
	err := row.Scan(
		&address, &v.Question, &v.Description, &v.Category, &v.Outcome1, &v.Outcome2,
		&creator, &v.ResolutionTime, &state, &result, &v.Rejected, &pricing,
		&templateVersion, &v.Pool1, &v.Pool2, &v.TotalPool, &v.Shares1, &v.Shares2,
		&v.Odds1, &v.Odds2, &v.FeesCollected, &v.AccumulatedFees, &v.BettorCount,
		&v.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.MarketView{}, err
	}
	if err := v.State.UnmarshalText([]byte(state)); err != nil {
		return domain.MarketView{}, err
	}
	v.Address = common.HexToAddress(address)
	v.Creator = common.HexToAddress(creator)
	v.Result = domain.Outcome(result)
	v.Pricing = domain.PricingKind(pricing)
	v.TemplateVersion = uint64(templateVersion)
	v.ResolvedAt = resolvedAt
	return v, nil
}

// Get retrieves a market view by address. It returns domain.ErrNotFound if
// no row matches.
func (s *MarketStore) Get(ctx context.Context, a common.Address) (domain.MarketView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE address = $1`, addr(a))
	v, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketView{}, domain.ErrNotFound
		}
		return domain.MarketView{}, fmt.Errorf("postgres: get market %s: %w", a.Hex(), err)
	}
	return v, nil
}

// List returns market views matching filter, newest first. Nil filter
// fields match everything; limit and offset page the result.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketView, error) {
	q := newQuery(`SELECT ` + marketCols + ` FROM markets WHERE 1=1`)
	if filter.State != nil {
		q.and("state = %s", filter.State.String())
	}
	if filter.Category != "" {
		q.and("LOWER(category) = LOWER(%s)", filter.Category)
	}
	if filter.Creator != nil {
		q.and("creator = %s", addr(*filter.Creator))
	}
	q.window("created_at", filter.ListOpts)
	q.page("created_at DESC", filter.ListOpts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketView
	for rows.Next() {
		v, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// LoadStates returns every serialized market ledger in creation order.
func (s *MarketStore) LoadStates(ctx context.Context) ([][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT ledger FROM markets ORDER BY created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load market states: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan market state: %w", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load market states rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
