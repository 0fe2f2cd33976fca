package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
)

// SubAccount names one of an account's two sub-ledgers.
type SubAccount string

const (
	Funding        SubAccount = "FUNDING"
	UnifiedTrading SubAccount = "UNIFIED_TRADING"
)

// ParseSubAccount validates a sub-account name.
func ParseSubAccount(s string) (SubAccount, error) {
	switch SubAccount(s) {
	case Funding, UnifiedTrading:
		return SubAccount(s), nil
	default:
		return "", apperr.Validation("invalid_account_type", fmt.Sprintf("unknown account type %q", s))
	}
}

// BalanceKey identifies a balance row. Funding rows are per currency and
// chain; unified trading rows are per currency and carry an empty chain.
type BalanceKey struct {
	AccountID  string
	SubAccount SubAccount
	Currency   string
	Chain      string
}

// FundingKey addresses a funding balance.
func FundingKey(accountID, currency, chain string) BalanceKey {
	return BalanceKey{AccountID: accountID, SubAccount: Funding, Currency: currency, Chain: chain}
}

// UnifiedKey addresses a unified trading balance.
func UnifiedKey(accountID, currency string) BalanceKey {
	return BalanceKey{AccountID: accountID, SubAccount: UnifiedTrading, Currency: currency}
}

func (k BalanceKey) String() string {
	return string(k.SubAccount) + ":" + k.AccountID + ":" + k.Currency + ":" + k.Chain
}

func (k BalanceKey) validate() error {
	if k.AccountID == "" || k.Currency == "" {
		return fmt.Errorf("%w: account and currency are required", ErrInvalidPosting)
	}
	switch k.SubAccount {
	case Funding:
		if k.Chain == "" {
			return fmt.Errorf("%w: funding balance requires a chain", ErrInvalidPosting)
		}
	case UnifiedTrading:
		if k.Chain != "" {
			return fmt.Errorf("%w: unified trading balance has no chain", ErrInvalidPosting)
		}
	default:
		return fmt.Errorf("%w: unknown sub-account %q", ErrInvalidPosting, k.SubAccount)
	}
	return nil
}

// Balance and record amounts are stored as NUMERIC(38, 18).
const (
	AmountScale         = 18
	AmountIntegerDigits = 20
)

var amountLimit = decimal.New(1, AmountIntegerDigits)

// CheckAmount rejects amounts that would be rounded or overflow when stored.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(AmountScale)) || amount.Abs().GreaterThanOrEqual(amountLimit) {
		return ErrAmountPrecision
	}
	return nil
}

// Balance is a single balance row. Total always equals
// Available + Locked + Frozen.
type Balance struct {
	ID        string
	Key       BalanceKey
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
	Frozen    decimal.Decimal
	UpdatedAt time.Time
}

func zeroBalance(id string, key BalanceKey) Balance {
	return Balance{
		ID:        id,
		Key:       key,
		Total:     decimal.Zero,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Frozen:    decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}
}

// Delta is a signed change to every column of one balance row.
type Delta struct {
	Key       BalanceKey
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
	Frozen    decimal.Decimal
}

// Credit adds amount to total and available.
func Credit(key BalanceKey, amount decimal.Decimal) Delta {
	return Delta{Key: key, Total: amount, Available: amount}
}

// Debit removes amount from total and available.
func Debit(key BalanceKey, amount decimal.Decimal) Delta {
	return Delta{Key: key, Total: amount.Neg(), Available: amount.Neg()}
}

func (d Delta) validate() error {
	if err := d.Key.validate(); err != nil {
		return err
	}
	for _, v := range [4]decimal.Decimal{d.Total, d.Available, d.Locked, d.Frozen} {
		if err := CheckAmount(v); err != nil {
			return err
		}
	}
	if !d.Total.Equal(d.Available.Add(d.Locked).Add(d.Frozen)) {
		return fmt.Errorf("%w: delta for %s breaks total = available + locked + frozen", ErrInvalidPosting, d.Key)
	}
	if d.Key.SubAccount == UnifiedTrading && (!d.Locked.IsZero() || !d.Frozen.IsZero()) {
		return fmt.Errorf("%w: unified trading balances carry no locked or frozen funds", ErrInvalidPosting)
	}
	return nil
}

// Adjust applies d to b, rejecting any result with a negative column.
func (b Balance) Adjust(d Delta) (Balance, error) {
	next := b
	next.Total = b.Total.Add(d.Total)
	next.Available = b.Available.Add(d.Available)
	next.Locked = b.Locked.Add(d.Locked)
	next.Frozen = b.Frozen.Add(d.Frozen)
	if next.Total.IsNegative() || next.Available.IsNegative() || next.Locked.IsNegative() || next.Frozen.IsNegative() {
		return b, ErrInsufficientFunds
	}
	if !next.Total.Equal(next.Available.Add(next.Locked).Add(next.Frozen)) {
		return b, fmt.Errorf("%w: balance %s would break its invariant", ErrInvalidPosting, b.Key)
	}
	if next.Total.GreaterThanOrEqual(amountLimit) {
		return b, fmt.Errorf("%w: balance %s would exceed its column", ErrAmountPrecision, b.Key)
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// validate checks the posting shape and returns the delta indexes in lock order.
func (p Posting) validate() ([]int, error) {
	if len(p.Deltas) == 0 {
		return nil, fmt.Errorf("%w: no deltas", ErrInvalidPosting)
	}
	seen := make(map[BalanceKey]bool, len(p.Deltas))
	order := make([]int, len(p.Deltas))
	for i, d := range p.Deltas {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("%w: balance %s appears twice", ErrInvalidPosting, d.Key)
		}
		seen[d.Key] = true
		order[i] = i
	}
	// Rows are always locked in key order so concurrent postings touching the
	// same balances cannot deadlock.
	sort.Slice(order, func(a, b int) bool {
		return p.Deltas[order[a]].Key.String() < p.Deltas[order[b]].Key.String()
	})
	return order, nil
}
