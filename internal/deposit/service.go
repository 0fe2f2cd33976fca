// Package deposit credits externally observed chain deposits into funding
// balances, at most once per transaction hash.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/account"
	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/chains"
	"github.com/congo-pay/exchange_ledger/internal/idalloc"
	"github.com/congo-pay/exchange_ledger/internal/ledger"
	"github.com/congo-pay/exchange_ledger/internal/metrics"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

// idAttempts bounds retries when an allocated deposit id is already taken.
const idAttempts = 3

var (
	ErrInvalidAmount = apperr.Validation("invalid_amount", "amount must be greater than zero")
	ErrChainMismatch = apperr.Validation("chain_mismatch", "wallet address belongs to a different chain")
	ErrTxHashMissing = apperr.Validation("tx_hash_required", "tx_hash is required")
)

// WalletResolver maps a deposit address to the wallet that owns it.
type WalletResolver interface {
	ResolveWallet(ctx context.Context, address string) (account.Wallet, error)
}

// IDAllocator issues day-scoped identifiers.
type IDAllocator interface {
	AllocateDailyID(ctx context.Context, prefix string, day time.Time) (string, error)
}

// CreditInput describes a verified deposit observed on chain.
type CreditInput struct {
	WalletAddress string
	Currency      string
	Chain         string
	Amount        decimal.Decimal
	TxHash        string
	FromAddress   string
}

// CreditResult is the credited deposit and the funding balance after it.
// NotificationError is set when the confirmation could not be delivered; the
// credit itself stands regardless.
type CreditResult struct {
	Deposit           ledger.Deposit
	Balance           ledger.Balance
	NotificationError string
}

// StatusResult reports whether a transaction hash has been credited.
type StatusResult struct {
	Exists    bool
	DepositID string
	Status    string
}

// Service credits deposits.
type Service struct {
	ledger   ledger.Store
	wallets  WalletResolver
	ids      IDAllocator
	registry *chains.Registry
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a deposit service.
func NewService(store ledger.Store, wallets WalletResolver, ids IDAllocator, registry *chains.Registry, notifier notification.Notifier, logger *slog.Logger) *Service {
	if registry == nil {
		registry = chains.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   store,
		wallets:  wallets,
		ids:      ids,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Credit records the deposit and increases the funding balance of the
// wallet's owner in one posting. A transaction hash can be credited once.
func (s *Service) Credit(ctx context.Context, in CreditInput) (CreditResult, error) {
	if !in.Amount.IsPositive() {
		return CreditResult{}, ErrInvalidAmount
	}
	if err := ledger.CheckAmount(in.Amount); err != nil {
		return CreditResult{}, err
	}
	chain, err := s.registry.Lookup(in.Chain)
	if err != nil {
		return CreditResult{}, err
	}
	currency := chains.Normalize(in.Currency)
	if !chain.Accepts(currency) {
		return CreditResult{}, apperr.Wrap(chains.ErrUnsupportedCurrency, fmt.Errorf("%s is not accepted on %s", currency, chain.ID))
	}

	wallet, err := s.wallets.ResolveWallet(ctx, in.WalletAddress)
	if err != nil {
		return CreditResult{}, err
	}
	if wallet.Chain != chain.ID {
		return CreditResult{}, ErrChainMismatch
	}

	txHash := strings.TrimSpace(in.TxHash)
	if txHash != "" {
		// The unique constraint on deposits.tx_hash is the real guard; this
		// check only avoids burning a deposit id on an obvious replay.
		if _, err := s.ledger.DepositByTxHash(ctx, txHash); err == nil {
			return CreditResult{}, ledger.ErrAlreadyCredited
		} else if !errors.Is(err, ledger.ErrDepositNotFound) {
			return CreditResult{}, err
		}
	}

	now := s.now()
	dep := ledger.Deposit{
		AccountID:     wallet.AccountID,
		Currency:      currency,
		Chain:         chain.ID,
		Amount:        in.Amount,
		Fee:           decimal.Zero,
		NetAmount:     in.Amount,
		TxHash:        txHash,
		FromAddress:   strings.TrimSpace(in.FromAddress),
		ToAddress:     wallet.Address,
		Status:        ledger.StatusCompleted,
		Confirmations: chain.Confirmations,
		CreatedAt:     now,
		CompletedAt:   now,
	}
	summary := fmt.Sprintf("%s %s received on %s", dep.NetAmount.String(), currency, chain.Network)
	record := notification.NewRecord(wallet.AccountID, notification.KindDepositCredited, "Deposit credited", summary)

	posting := ledger.Posting{
		Deltas:       []ledger.Delta{ledger.Credit(ledger.FundingKey(wallet.AccountID, currency, chain.ID), dep.NetAmount)},
		Deposit:      &dep,
		Notification: &record,
	}
	var res ledger.PostingResult
	for attempt := 1; ; attempt++ {
		if dep.ID, err = s.ids.AllocateDailyID(ctx, idalloc.PrefixDeposit, now); err != nil {
			return CreditResult{}, err
		}
		res, err = s.ledger.Apply(ctx, posting)
		if !errors.Is(err, ledger.ErrDuplicateRecord) || attempt == idAttempts {
			break
		}
		s.logger.Warn("deposit id already used, allocating another", slog.String("deposit_id", dep.ID))
	}
	if err != nil {
		return CreditResult{}, err
	}

	metrics.DepositsCredited.WithLabelValues(chain.ID, currency).Inc()
	s.logger.Info("deposit credited",
		slog.String("deposit_id", dep.ID),
		slog.String("account_id", dep.AccountID),
		slog.String("currency", currency),
		slog.String("chain", chain.ID),
		slog.String("amount", dep.Amount.String()),
		slog.String("tx_hash", txHash),
	)

	out := CreditResult{Deposit: dep, Balance: res.Balances[0]}
	if err := s.notify(ctx, dep, summary); err != nil {
		out.NotificationError = err.Error()
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, dep ledger.Deposit, summary string) error {
	if s.notifier == nil {
		return nil
	}
	err := s.notifier.Send(ctx, notification.Message{
		Kind:      notification.KindDepositCredited,
		AccountID: dep.AccountID,
		Subject:   "Deposit credited",
		Body:      summary,
	})
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(notification.KindDepositCredited).Inc()
		s.logger.Warn("deposit notification failed", slog.String("deposit_id", dep.ID), slog.Any("error", err))
	}
	return err
}

// Status reports whether txHash has been credited to accountID. Deposits of
// other accounts are reported as absent.
func (s *Service) Status(ctx context.Context, accountID, txHash string) (StatusResult, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return StatusResult{}, ErrTxHashMissing
	}
	dep, err := s.ledger.DepositByTxHash(ctx, txHash)
	if errors.Is(err, ledger.ErrDepositNotFound) {
		return StatusResult{}, nil
	}
	if err != nil {
		return StatusResult{}, err
	}
	if accountID != "" && dep.AccountID != accountID {
		return StatusResult{}, nil
	}
	return StatusResult{Exists: true, DepositID: dep.ID, Status: dep.Status}, nil
}
