package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertBatch appends events in a single batch. Events already present are
// skipped.
func (s *EventStore) InsertBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO events (id, type, market, actor, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	for _, e := range events {
		var data []byte
		if len(e.Data) > 0 {
			var err error
			if data, err = json.Marshal(e.Data); err != nil {
				return fmt.Errorf("postgres: marshal event %s data: %w", e.Type, err)
			}
		}
		batch.Queue(query, e.ID, string(e.Type), addr(e.Market), addr(e.Actor), data, e.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event batch item %d: %w", i, err)
		}
	}
	return nil
}

const eventCols = `id, type, market, actor, data, created_at`

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e             domain.Event
			typ           string
			market, actor string
			data          []byte
		)
		if err := rows.Scan(&e.ID, &typ, &market, &actor, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event data: %w", err)
			}
		}
		e.Type = domain.EventType(typ)
		e.Market = common.HexToAddress(market)
		e.Actor = common.HexToAddress(actor)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: events rows: %w", err)
	}
	return out, nil
}

// ListByMarket returns a market's events in emission order.
func (s *EventStore) ListByMarket(ctx context.Context, mkt common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	q := newQuery(`SELECT ` + eventCols + ` FROM events WHERE 1=1`)
	q.and("market = %s", addr(mkt))
	q.window("created_at", opts)
	q.page("created_at ASC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", mkt.Hex(), err)
	}
	return scanEvents(rows)
}

// ListBefore returns up to limit of the oldest events created before the
// cutoff.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM events WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEvents(rows)
}

// DeleteBefore removes events created before the cutoff and reports how many
// rows went. The archiver calls it only after the same range is uploaded.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.EventStore = (*EventStore)(nil)
