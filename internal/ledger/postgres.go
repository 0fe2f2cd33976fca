package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/notification"
)

const depositTxHashConstraint = "deposits_tx_hash_key"

// DB is the part of *pgxpool.Pool the ledger runs on.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger persists balances and their audit records in PostgreSQL.
type PostgresLedger struct {
	db DB
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type tableQueries struct {
	selectRow string
	insertRow string
	update    func(b Balance) (string, []any)
	args      func(k BalanceKey) []any
}

var fundingQueries = tableQueries{
	selectRow: `SELECT id, total::text, available::text, locked::text, frozen::text, updated_at
        FROM funding_balances WHERE account_id = $1 AND currency = $2 AND chain = $3`,
	insertRow: `INSERT INTO funding_balances (id, account_id, currency, chain)
        VALUES ($4, $1, $2, $3) ON CONFLICT (account_id, currency, chain) DO NOTHING`,
	update: func(b Balance) (string, []any) {
		return `UPDATE funding_balances SET total = $1, available = $2, locked = $3, frozen = $4, updated_at = $5 WHERE id = $6`,
			[]any{b.Total.String(), b.Available.String(), b.Locked.String(), b.Frozen.String(), b.UpdatedAt, b.ID}
	},
	args: func(k BalanceKey) []any { return []any{k.AccountID, k.Currency, k.Chain} },
}

var unifiedQueries = tableQueries{
	selectRow: `SELECT id, total::text, available::text, '0', '0', updated_at
        FROM unified_trading_balances WHERE account_id = $1 AND currency = $2`,
	insertRow: `INSERT INTO unified_trading_balances (id, account_id, currency)
        VALUES ($3, $1, $2) ON CONFLICT (account_id, currency) DO NOTHING`,
	update: func(b Balance) (string, []any) {
		return `UPDATE unified_trading_balances SET total = $1, available = $2, updated_at = $3 WHERE id = $4`,
			[]any{b.Total.String(), b.Available.String(), b.UpdatedAt, b.ID}
	},
	args: func(k BalanceKey) []any { return []any{k.AccountID, k.Currency} },
}

func queriesFor(k BalanceKey) tableQueries {
	if k.SubAccount == UnifiedTrading {
		return unifiedQueries
	}
	return fundingQueries
}

// GetOrCreateBalance returns the balance row for key, creating a zeroed row on first access.
func (l *PostgresLedger) GetOrCreateBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if err := key.validate(); err != nil {
		return Balance{}, err
	}
	return getOrCreate(ctx, l.db, key, false)
}

func getOrCreate(ctx context.Context, q querier, key BalanceKey, forUpdate bool) (Balance, error) {
	b, err := selectBalance(ctx, q, key, forUpdate)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, err
	}

	qs := queriesFor(key)
	if _, err := q.Exec(ctx, qs.insertRow, append(qs.args(key), uuid.New())...); err != nil {
		if foreignKeyViolation(err) {
			return Balance{}, ErrUnknownAccount
		}
		return Balance{}, fmt.Errorf("create balance %s: %w", key, err)
	}
	return selectBalance(ctx, q, key, forUpdate)
}

func selectBalance(ctx context.Context, q querier, key BalanceKey, forUpdate bool) (Balance, error) {
	qs := queriesFor(key)
	query := qs.selectRow
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		id                               uuid.UUID
		total, available, locked, frozen string
		updatedAt                        time.Time
	)
	if err := q.QueryRow(ctx, query, qs.args(key)...).Scan(&id, &total, &available, &locked, &frozen, &updatedAt); err != nil {
		return Balance{}, err
	}
	b := Balance{ID: id.String(), Key: key, UpdatedAt: updatedAt.UTC()}
	var err error
	if b.Total, b.Available, b.Locked, b.Frozen, err = parseColumns(total, available, locked, frozen); err != nil {
		return Balance{}, fmt.Errorf("balance %s: %w", key, err)
	}
	return b, nil
}

// Balances lists every funding and unified trading row of an account.
func (l *PostgresLedger) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	const query = `
        SELECT id, 'FUNDING', currency, chain, total::text, available::text, locked::text, frozen::text, updated_at
        FROM funding_balances WHERE account_id = $1
        UNION ALL
        SELECT id, 'UNIFIED_TRADING', currency, '', total::text, available::text, '0', '0', updated_at
        FROM unified_trading_balances WHERE account_id = $1
        ORDER BY 2, 3, 4`
	rows, err := l.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var (
			id                               uuid.UUID
			sub                              string
			total, available, locked, frozen string
			b                                Balance
		)
		b.Key.AccountID = accountID
		if err := rows.Scan(&id, &sub, &b.Key.Currency, &b.Key.Chain, &total, &available, &locked, &frozen, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.ID = id.String()
		b.Key.SubAccount = SubAccount(sub)
		b.UpdatedAt = b.UpdatedAt.UTC()
		if b.Total, b.Available, b.Locked, b.Frozen, err = parseColumns(total, available, locked, frozen); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Apply runs the posting in one transaction: rows are locked in key order,
// adjusted, and written together with the audit records.
func (l *PostgresLedger) Apply(ctx context.Context, p Posting) (PostingResult, error) {
	order, err := p.validate()
	if err != nil {
		return PostingResult{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PostingResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	staged := make([]Balance, len(p.Deltas))
	for _, i := range order {
		d := p.Deltas[i]
		current, err := getOrCreate(ctx, tx, d.Key, true)
		if err != nil {
			return PostingResult{}, err
		}
		next, err := current.Adjust(d)
		if err != nil {
			return PostingResult{}, err
		}
		query, args := queriesFor(d.Key).update(next)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return PostingResult{}, fmt.Errorf("update balance %s: %w", d.Key, err)
		}
		staged[i] = next
	}

	if p.Deposit != nil {
		if err := insertDeposit(ctx, tx, *p.Deposit); err != nil {
			return PostingResult{}, err
		}
	}
	if p.Transfer != nil {
		if err := insertTransfer(ctx, tx, *p.Transfer); err != nil {
			return PostingResult{}, err
		}
	}
	if p.Notification != nil {
		if err := notification.Insert(ctx, tx, *p.Notification); err != nil {
			return PostingResult{}, fmt.Errorf("insert notification: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Balances: staged}, nil
}

func insertDeposit(ctx context.Context, tx pgx.Tx, d Deposit) error {
	_, err := tx.Exec(ctx, `INSERT INTO deposits (id, account_id, currency, chain, amount, fee, net_amount,
            tx_hash, from_address, to_address, status, confirmations, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)`,
		d.ID, d.AccountID, d.Currency, d.Chain, d.Amount.String(), d.Fee.String(), d.NetAmount.String(),
		normalizeHash(d.TxHash), d.FromAddress, d.ToAddress, d.Status, d.Confirmations, d.CreatedAt.UTC(), d.CompletedAt.UTC())
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == depositTxHashConstraint {
			return ErrAlreadyCredited
		}
		return ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("insert deposit: %w", err)
	}
	return nil
}

func insertTransfer(ctx context.Context, tx pgx.Tx, t InternalTransfer) error {
	_, err := tx.Exec(ctx, `INSERT INTO internal_transfers (id, account_id, currency, chain, amount,
            from_account_type, to_account_type, status, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccountID, t.Currency, t.Chain, t.Amount.String(), string(t.From), string(t.To), t.Status, t.CreatedAt.UTC(), t.CompletedAt.UTC())
	if _, ok := uniqueViolation(err); ok {
		return ErrDuplicateRecord
	}
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// DepositByTxHash fetches the deposit credited for txHash.
func (l *PostgresLedger) DepositByTxHash(ctx context.Context, txHash string) (Deposit, error) {
	row := l.db.QueryRow(ctx, `SELECT id, account_id, currency, chain, amount::text, fee::text, net_amount::text,
            COALESCE(tx_hash, ''), from_address, to_address, status, confirmations, created_at, completed_at
        FROM deposits WHERE tx_hash = $1`, normalizeHash(txHash))

	var (
		d                      Deposit
		amount, fee, netAmount string
	)
	if err := row.Scan(&d.ID, &d.AccountID, &d.Currency, &d.Chain, &amount, &fee, &netAmount,
		&d.TxHash, &d.FromAddress, &d.ToAddress, &d.Status, &d.Confirmations, &d.CreatedAt, &d.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deposit{}, ErrDepositNotFound
		}
		return Deposit{}, err
	}
	var err error
	if d.Amount, d.Fee, d.NetAmount, _, err = parseColumns(amount, fee, netAmount, "0"); err != nil {
		return Deposit{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.CompletedAt = d.CompletedAt.UTC()
	return d, nil
}

// TransfersByAccount returns the account's transfers, newest first.
func (l *PostgresLedger) TransfersByAccount(ctx context.Context, accountID string, limit int) ([]InternalTransfer, error) {
	rows, err := l.db.Query(ctx, `SELECT id, account_id, currency, chain, amount::text, from_account_type,
            to_account_type, status, created_at, completed_at
        FROM internal_transfers WHERE account_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InternalTransfer
	for rows.Next() {
		var (
			t        InternalTransfer
			amount   string
			from, to string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Currency, &t.Chain, &amount, &from, &to, &t.Status, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse transfer amount: %w", err)
		}
		t.From, t.To = SubAccount(from), SubAccount(to)
		t.CreatedAt = t.CreatedAt.UTC()
		t.CompletedAt = t.CompletedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseColumns(a, b, c, d string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	var out [4]decimal.Decimal
	for i, s := range [4]string{a, b, c, d} {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
		}
		out[i] = v
	}
	return out[0], out[1], out[2], out[3], nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
