package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

var (
	// ErrInsufficientFunds occurs when a posting would drive any balance
	// column negative.
	ErrInsufficientFunds = apperr.New(apperr.KindInsufficientBalance, "insufficient_balance", "insufficient funds")

	// ErrAlreadyCredited indicates a deposit with the same transaction hash
	// has already been applied.
	ErrAlreadyCredited = apperr.New(apperr.KindConflict, "already_credited", "deposit already credited")

	// ErrDuplicateRecord indicates an audit record identifier collided.
	ErrDuplicateRecord = apperr.New(apperr.KindConflict, "duplicate_record", "ledger record already exists")

	// ErrDepositNotFound is returned when no deposit matches a lookup.
	ErrDepositNotFound = apperr.New(apperr.KindNotFound, "deposit_not_found", "deposit not found")

	// ErrUnknownAccount is returned when a balance row would reference a
	// missing account.
	ErrUnknownAccount = apperr.New(apperr.KindNotFound, "account_not_found", "account not found")

	// ErrAmountPrecision is returned for amounts the balance columns cannot
	// hold exactly.
	ErrAmountPrecision = apperr.New(apperr.KindValidation, "invalid_amount_precision",
		fmt.Sprintf("amounts allow at most %d decimal places and %d integer digits", AmountScale, AmountIntegerDigits))

	// ErrInvalidPosting is returned for malformed postings.
	ErrInvalidPosting = apperr.New(apperr.KindValidation, "invalid_posting", "invalid ledger posting")
)

// Record statuses.
const (
	StatusCompleted = "COMPLETED"
)

// Deposit is the immutable record of an externally observed deposit.
type Deposit struct {
	ID            string
	AccountID     string
	Currency      string
	Chain         string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	NetAmount     decimal.Decimal
	TxHash        string
	FromAddress   string
	ToAddress     string
	Status        string
	Confirmations int
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// InternalTransfer is the append-only audit record of a sub-account transfer.
type InternalTransfer struct {
	ID          string
	AccountID   string
	Currency    string
	Chain       string
	Amount      decimal.Decimal
	From        SubAccount
	To          SubAccount
	Status      string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Posting is the single atomic ledger operation: a set of balance deltas and
// the audit records that justify them. Store.Apply commits all of it or none.
type Posting struct {
	Deltas       []Delta
	Deposit      *Deposit
	Transfer     *InternalTransfer
	Notification *notification.Record
}

// PostingResult holds the post-commit balances, in the order of Posting.Deltas.
type PostingResult struct {
	Balances []Balance
}

// Store owns every balance row. Balances change only through Apply.
type Store interface {
	GetOrCreateBalance(ctx context.Context, key BalanceKey) (Balance, error)
	Balances(ctx context.Context, accountID string) ([]Balance, error)
	Apply(ctx context.Context, posting Posting) (PostingResult, error)
	DepositByTxHash(ctx context.Context, txHash string) (Deposit, error)
	TransfersByAccount(ctx context.Context, accountID string, limit int) ([]InternalTransfer, error)
}
