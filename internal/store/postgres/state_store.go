package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL. Each component
// (access, params, factory, fees, resolution, revision) is one row holding
// its JSON snapshot.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Save replaces the stored state of a component.
func (s *StateStore) Save(ctx context.Context, component string, state []byte) error {
	const query = `
		INSERT INTO engine_state (component, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (component) DO UPDATE SET
			state      = EXCLUDED.state,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, component, state); err != nil {
		return fmt.Errorf("postgres: save %s state: %w", component, err)
	}
	return nil
}

// Load returns the stored state of a component, or domain.ErrNotFound when
// the component has never been saved.
func (s *StateStore) Load(ctx context.Context, component string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM engine_state WHERE component = $1`, component).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load %s state: %w", component, err)
	}
	return data, nil
}

var _ domain.StateStore = (*StateStore)(nil)
