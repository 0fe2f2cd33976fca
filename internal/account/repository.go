package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists accounts and their wallets.
type Repository interface {
	// CreateWithWallets stores the account, every wallet and the optional
	// referral as one unit: either all rows exist afterwards or none do.
	CreateWithWallets(ctx context.Context, acct Account, wallets []Wallet, ref *Referral) error
	FindByID(ctx context.Context, id string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByPhone(ctx context.Context, phone string) (Account, error)
	FindByReferralCode(ctx context.Context, code string) (Account, error)
	Wallets(ctx context.Context, accountID string) ([]Wallet, error)
	WalletByAddress(ctx context.Context, address string) (Wallet, error)
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateWithWallets inserts the account, its wallets and referral in one transaction.
func (r *PostgresRepository) CreateWithWallets(ctx context.Context, acct Account, wallets []Wallet, ref *Referral) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO accounts (id, email, phone, password_hash, derivation_index, referral_code,
            referred_by, email_verified, phone_verified, kyc_verified, created_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		acct.ID, acct.Email, acct.Phone, acct.PasswordHash, int64(acct.DerivationIndex), acct.ReferralCode,
		acct.ReferredBy, acct.EmailVerified, acct.PhoneVerified, acct.KYCVerified, acct.CreatedAt.UTC())
	if err != nil {
		return mapInsertError(err)
	}

	for _, w := range wallets {
		walletID, err := uuid.Parse(w.ID)
		if err != nil {
			return fmt.Errorf("wallet id: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO wallets (id, account_id, chain, network, currency, address, derivation_index, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			walletID, w.AccountID, w.Chain, w.Network, w.Currency, w.Address, int64(w.DerivationIndex), w.CreatedAt.UTC())
		if err != nil {
			return mapInsertError(err)
		}
	}

	if ref != nil {
		refID, err := uuid.Parse(ref.ID)
		if err != nil {
			return fmt.Errorf("referral id: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO referrals (id, referrer_id, referee_id, code, created_at)
            VALUES ($1, $2, $3, $4, $5)`, refID, ref.ReferrerID, ref.RefereeID, ref.Code, ref.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert referral: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "accounts_pkey":
		return errUIDTaken
	case "accounts_email_key":
		return ErrDuplicateEmail
	case "accounts_phone_key":
		return ErrDuplicatePhone
	case "accounts_referral_code_key":
		return errReferralCodeTaken
	default:
		return ErrDuplicateAddress
	}
}

const accountColumns = `id, email, COALESCE(phone, ''), password_hash, derivation_index, referral_code,
        COALESCE(referred_by, ''), email_verified, phone_verified, kyc_verified, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct  Account
		index int64
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Phone, &acct.PasswordHash, &index, &acct.ReferralCode,
		&acct.ReferredBy, &acct.EmailVerified, &acct.PhoneVerified, &acct.KYCVerified, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	acct.DerivationIndex = uint32(index)
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

// FindByID fetches an account by UID.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// FindByEmail fetches an account by its lower-cased email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// FindByPhone fetches an account by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone = $1`, phone))
}

// FindByReferralCode matches referral codes case-insensitively.
func (r *PostgresRepository) FindByReferralCode(ctx context.Context, code string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = UPPER($1)`, code))
}

const walletColumns = `id, account_id, chain, network, currency, address, derivation_index, created_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w     Wallet
		id    uuid.UUID
		index int64
	)
	if err := row.Scan(&id, &w.AccountID, &w.Chain, &w.Network, &w.Currency, &w.Address, &index, &w.CreatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.DerivationIndex = uint32(index)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// Wallets lists the account's wallets in creation order.
func (r *PostgresRepository) Wallets(ctx context.Context, accountID string) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1 ORDER BY created_at, chain`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WalletByAddress resolves a deposit address to its wallet.
func (r *PostgresRepository) WalletByAddress(ctx context.Context, address string) (Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = $1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}
