package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

var balanceColumns = []string{"id", "total", "available", "locked", "frozen", "updated_at"}

func newMockLedger(t *testing.T) (*PostgresLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgresLedger(mock), mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresLedger_ApplyLocksInKeyOrderAndCommits(t *testing.T) {
	l, mock := newMockLedger(t)
	fundingID, unifiedID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBeginTx(pgx.TxOptions{})
	// FUNDING sorts before UNIFIED_TRADING, whatever the delta order.
	mock.ExpectQuery(`FROM funding_balances WHERE .+ FOR UPDATE`).
		WithArgs("4000000001", "USDT", "ETH").
		WillReturnRows(pgxmock.NewRows(balanceColumns).AddRow(fundingID, "100", "100", "0", "0", now))
	mock.ExpectExec(`UPDATE funding_balances SET`).
		WithArgs("60", "60", "0", "0", pgxmock.AnyArg(), fundingID.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM unified_trading_balances WHERE .+ FOR UPDATE`).
		WithArgs("4000000001", "USDT").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO unified_trading_balances`).
		WithArgs("4000000001", "USDT", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM unified_trading_balances WHERE .+ FOR UPDATE`).
		WithArgs("4000000001", "USDT").
		WillReturnRows(pgxmock.NewRows(balanceColumns).AddRow(unifiedID, "0", "0", "0", "0", now))
	mock.ExpectExec(`UPDATE unified_trading_balances SET`).
		WithArgs("40", "40", pgxmock.AnyArg(), unifiedID.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO internal_transfers`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := l.Apply(context.Background(), Posting{
		Deltas: []Delta{
			Credit(UnifiedKey("4000000001", "USDT"), dec("40")),
			Debit(FundingKey("4000000001", "USDT", "ETH"), dec("40")),
		},
		Transfer: &InternalTransfer{
			ID: "TRF20261016000001", AccountID: "4000000001", Currency: "USDT", Chain: "ETH",
			Amount: dec("40"), From: Funding, To: UnifiedTrading, Status: StatusCompleted,
			CreatedAt: now, CompletedAt: now,
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Balances[0].Total.Equal(dec("40")) || !res.Balances[1].Available.Equal(dec("60")) {
		t.Fatalf("unexpected balances %+v", res.Balances)
	}
	expectationsMet(t, mock)
}

func depositPosting(txHash string) Posting {
	now := time.Now().UTC()
	return Posting{
		Deltas: []Delta{Credit(FundingKey("4000000001", "USDT", "ETH"), dec("100"))},
		Deposit: &Deposit{
			ID: "DEP20261016000002", AccountID: "4000000001", Currency: "USDT", Chain: "ETH",
			Amount: dec("100"), Fee: dec("0"), NetAmount: dec("100"), TxHash: txHash,
			Status: StatusCompleted, CreatedAt: now, CompletedAt: now,
		},
	}
}

func TestPostgresLedger_TxHashConstraintMeansAlreadyCredited(t *testing.T) {
	l, mock := newMockLedger(t)
	id := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FROM funding_balances WHERE .+ FOR UPDATE`).
		WithArgs("4000000001", "USDT", "ETH").
		WillReturnRows(pgxmock.NewRows(balanceColumns).AddRow(id, "100", "100", "0", "0", time.Now()))
	mock.ExpectExec(`UPDATE funding_balances SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO deposits`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: depositTxHashConstraint})
	mock.ExpectRollback()

	if _, err := l.Apply(context.Background(), depositPosting("0xabc")); !errors.Is(err, ErrAlreadyCredited) {
		t.Fatalf("expected ErrAlreadyCredited, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresLedger_DepositIDConflictIsDuplicateRecord(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FROM funding_balances WHERE .+ FOR UPDATE`).
		WillReturnRows(pgxmock.NewRows(balanceColumns).AddRow(uuid.New(), "0", "0", "0", "0", time.Now()))
	mock.ExpectExec(`UPDATE funding_balances SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO deposits`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "deposits_pkey"})
	mock.ExpectRollback()

	if _, err := l.Apply(context.Background(), depositPosting("")); !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresLedger_MissingAccountIsUnknownAccount(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FROM funding_balances WHERE .+ FOR UPDATE`).
		WithArgs("4000000001", "USDT", "ETH").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO funding_balances`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "funding_balances_account_id_fkey"})
	mock.ExpectRollback()

	if _, err := l.Apply(context.Background(), depositPosting("0xdef")); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresLedger_InsufficientFundsWritesNothing(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(`FROM funding_balances WHERE .+ FOR UPDATE`).
		WillReturnRows(pgxmock.NewRows(balanceColumns).AddRow(uuid.New(), "10", "10", "0", "0", time.Now()))
	mock.ExpectRollback()

	_, err := l.Apply(context.Background(), Posting{
		Deltas: []Delta{
			Debit(FundingKey("4000000001", "USDT", "ETH"), dec("40")),
			Credit(UnifiedKey("4000000001", "USDT"), dec("40")),
		},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	expectationsMet(t, mock)
}
