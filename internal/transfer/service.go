package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/chains"
	"github.com/congo-pay/exchange_ledger/internal/idalloc"
	"github.com/congo-pay/exchange_ledger/internal/ledger"
	"github.com/congo-pay/exchange_ledger/internal/metrics"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// idAttempts bounds retries when an allocated transfer id is already taken.
	idAttempts = 3
)

var (
	ErrAccountRequired = apperr.Validation("account_required", "account id is required")
	ErrInvalidAmount   = apperr.Validation("invalid_amount", "amount must be greater than zero")
	ErrSameAccountType = apperr.Validation("same_account_type", "source and destination must differ")
)

// IDAllocator issues day-scoped identifiers.
type IDAllocator interface {
	AllocateDailyID(ctx context.Context, prefix string, day time.Time) (string, error)
}

// Input describes a move between an account's own sub-accounts. Chain selects
// the funding balance; when empty the currency's default chain is used.
type Input struct {
	AccountID string
	Currency  string
	Amount    decimal.Decimal
	From      string
	To        string
	Chain     string
}

// Result holds the committed transfer and both balances after it.
type Result struct {
	Transfer          ledger.InternalTransfer
	From              ledger.Balance
	To                ledger.Balance
	NotificationError string
}

// Service moves funds between the funding and unified trading sub-accounts.
type Service struct {
	ledger   ledger.Store
	ids      IDAllocator
	registry *chains.Registry
	notes    notification.Repository
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a transfer service. notes may be nil.
func NewService(store ledger.Store, ids IDAllocator, registry *chains.Registry, notes notification.Repository, logger *slog.Logger) *Service {
	if registry == nil {
		registry = chains.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   store,
		ids:      ids,
		registry: registry,
		notes:    notes,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Transfer debits the source and credits the destination in one posting.
// The two balances change together or not at all.
func (s *Service) Transfer(ctx context.Context, in Input) (Result, error) {
	if in.AccountID == "" {
		return Result{}, ErrAccountRequired
	}
	if !in.Amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	if err := ledger.CheckAmount(in.Amount); err != nil {
		return Result{}, err
	}
	from, err := ledger.ParseSubAccount(in.From)
	if err != nil {
		return Result{}, err
	}
	to, err := ledger.ParseSubAccount(in.To)
	if err != nil {
		return Result{}, err
	}
	if from == to {
		return Result{}, ErrSameAccountType
	}
	currency := chains.Normalize(in.Currency)
	chain, err := s.fundingChain(currency, in.Chain)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	record := ledger.InternalTransfer{
		AccountID:   in.AccountID,
		Currency:    currency,
		Chain:       chain.ID,
		Amount:      in.Amount,
		From:        from,
		To:          to,
		Status:      ledger.StatusCompleted,
		CreatedAt:   now,
		CompletedAt: now,
	}
	posting := ledger.Posting{
		Deltas: []ledger.Delta{
			ledger.Debit(s.key(in.AccountID, currency, chain.ID, from), in.Amount),
			ledger.Credit(s.key(in.AccountID, currency, chain.ID, to), in.Amount),
		},
		Transfer: &record,
	}
	var res ledger.PostingResult
	for attempt := 1; ; attempt++ {
		if record.ID, err = s.ids.AllocateDailyID(ctx, idalloc.PrefixTransfer, now); err != nil {
			metrics.Transfers.WithLabelValues("failed").Inc()
			return Result{}, err
		}
		res, err = s.ledger.Apply(ctx, posting)
		if !errors.Is(err, ledger.ErrDuplicateRecord) || attempt == idAttempts {
			break
		}
		s.logger.Warn("transfer id already used, allocating another", slog.String("transfer_id", record.ID))
	}
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.Transfers.WithLabelValues("insufficient_balance").Inc()
		} else {
			metrics.Transfers.WithLabelValues("failed").Inc()
		}
		return Result{}, err
	}

	metrics.Transfers.WithLabelValues("completed").Inc()
	s.logger.Info("internal transfer completed",
		slog.String("transfer_id", record.ID),
		slog.String("account_id", in.AccountID),
		slog.String("currency", currency),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("amount", in.Amount.String()),
	)

	out := Result{Transfer: record, From: res.Balances[0], To: res.Balances[1]}
	if err := s.recordNotification(ctx, record); err != nil {
		out.NotificationError = err.Error()
	}
	return out, nil
}

func (s *Service) fundingChain(currency, chainID string) (chains.Chain, error) {
	if !s.registry.KnownCurrency(currency) {
		return chains.Chain{}, chains.ErrUnsupportedCurrency
	}
	if chainID == "" {
		return s.registry.DefaultChain(currency)
	}
	chain, err := s.registry.Lookup(chainID)
	if err != nil {
		return chains.Chain{}, err
	}
	if !chain.Accepts(currency) {
		return chains.Chain{}, apperr.Wrap(chains.ErrUnsupportedCurrency, fmt.Errorf("%s is not held on %s", currency, chain.ID))
	}
	return chain, nil
}

func (s *Service) key(accountID, currency, chainID string, sub ledger.SubAccount) ledger.BalanceKey {
	if sub == ledger.UnifiedTrading {
		return ledger.UnifiedKey(accountID, currency)
	}
	return ledger.FundingKey(accountID, currency, chainID)
}

func (s *Service) recordNotification(ctx context.Context, t ledger.InternalTransfer) error {
	if s.notes == nil {
		return nil
	}
	body := fmt.Sprintf("Moved %s %s from %s to %s", t.Amount.String(), t.Currency, t.From, t.To)
	err := s.notes.Insert(ctx, notification.NewRecord(t.AccountID, notification.KindTransferCompleted, "Transfer completed", body))
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(notification.KindTransferCompleted).Inc()
		s.logger.Warn("transfer notification not recorded", slog.String("transfer_id", t.ID), slog.Any("error", err))
	}
	return err
}

// History returns the account's transfers, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]ledger.InternalTransfer, error) {
	if accountID == "" {
		return nil, ErrAccountRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.ledger.TransfersByAccount(ctx, accountID, limit)
}
