package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Record is an in-app notification stored alongside ledger activity.
type Record struct {
	ID        string
	AccountID string
	Kind      string
	Title     string
	Body      string
	CreatedAt time.Time
}

// NewRecord stamps a record with a time-ordered identifier.
func NewRecord(accountID, kind, title, body string) Record {
	now := time.Now().UTC()
	return Record{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		AccountID: accountID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: now,
	}
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert writes rec using db, which may be a pool or an open transaction.
func Insert(ctx context.Context, db Execer, rec Record) error {
	_, err := db.Exec(ctx, `INSERT INTO notifications (id, account_id, kind, title, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, rec.ID, rec.AccountID, rec.Kind, rec.Title, rec.Body, rec.CreatedAt.UTC())
	return err
}

// Repository persists notification records outside of ledger postings.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Record, error)
}

// PostgresRepository stores records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed notification repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores a record.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	return Insert(ctx, r.db, rec)
}

// ListByAccount returns the newest records first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, kind, title, body, created_at
        FROM notifications WHERE account_id = $1 ORDER BY id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Kind, &rec.Title, &rec.Body, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

type memoryRepository struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryRepository builds an in-memory notification store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryRepository) ListByAccount(_ context.Context, accountID string, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, rec := range r.records {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
