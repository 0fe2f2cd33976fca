package idalloc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RowQuerier runs single-row queries; *pgxpool.Pool satisfies it.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps counters in the counters table.
type PostgresStore struct {
	db RowQuerier
}

// NewPostgresStore builds a Postgres-backed counter store.
func NewPostgresStore(db RowQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Next increments and returns the counter in a single statement. The row
// lock taken by ON CONFLICT DO UPDATE serialises concurrent callers.
func (s *PostgresStore) Next(ctx context.Context, name, scope string) (int64, error) {
	const query = `
        INSERT INTO counters (name, date_scope, last_value, updated_at)
        VALUES ($1, $2, 1, NOW())
        ON CONFLICT (name, date_scope)
        DO UPDATE SET last_value = counters.last_value + 1, updated_at = NOW()
        RETURNING last_value`
	var n int64
	if err := s.db.QueryRow(ctx, query, name, scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment counter %s@%s: %w", name, scope, err)
	}
	return n, nil
}
