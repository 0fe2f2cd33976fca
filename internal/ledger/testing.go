package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that credits amount to key without any audit record.
func SeedBalance(ctx context.Context, s Store, key BalanceKey, amount string) error {
	_, err := s.Apply(ctx, Posting{Deltas: []Delta{Credit(key, decimal.RequireFromString(amount))}})
	return err
}
