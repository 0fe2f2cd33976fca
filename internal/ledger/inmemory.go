package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/exchange_ledger/internal/notification"
)

type inMemoryLedger struct {
	mu            sync.RWMutex
	balances      map[BalanceKey]Balance
	deposits      map[string]Deposit
	depositByHash map[string]string
	transfers     []InternalTransfer
	transferIDs   map[string]bool
	notifications notification.Repository
}

// MemoryOption configures the in-memory ledger.
type MemoryOption func(*inMemoryLedger)

// WithNotifications routes the notification records of applied postings into repo,
// mirroring the notifications table written by the Postgres ledger.
func WithNotifications(repo notification.Repository) MemoryOption {
	return func(l *inMemoryLedger) {
		if repo != nil {
			l.notifications = repo
		}
	}
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory(opts ...MemoryOption) Store {
	l := &inMemoryLedger{
		balances:      make(map[BalanceKey]Balance),
		deposits:      make(map[string]Deposit),
		depositByHash: make(map[string]string),
		transferIDs:   make(map[string]bool),
		notifications: notification.NewMemoryRepository(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *inMemoryLedger) GetOrCreateBalance(_ context.Context, key BalanceKey) (Balance, error) {
	if err := key.validate(); err != nil {
		return Balance{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrCreateLocked(key), nil
}

func (l *inMemoryLedger) getOrCreateLocked(key BalanceKey) Balance {
	b, ok := l.balances[key]
	if !ok {
		b = zeroBalance(uuid.NewString(), key)
		l.balances[key] = b
	}
	return b
}

func (l *inMemoryLedger) Balances(_ context.Context, accountID string) ([]Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Balance
	for key, b := range l.balances {
		if key.AccountID == accountID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Apply stages every change before touching shared state, so a failing
// delta or record leaves the ledger exactly as it was.
func (l *inMemoryLedger) Apply(ctx context.Context, p Posting) (PostingResult, error) {
	order, err := p.validate()
	if err != nil {
		return PostingResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make([]Balance, len(p.Deltas))
	for _, i := range order {
		d := p.Deltas[i]
		current, ok := l.balances[d.Key]
		if !ok {
			current = zeroBalance(uuid.NewString(), d.Key)
		}
		next, err := current.Adjust(d)
		if err != nil {
			return PostingResult{}, err
		}
		staged[i] = next
	}

	if p.Deposit != nil {
		if _, exists := l.deposits[p.Deposit.ID]; exists {
			return PostingResult{}, ErrDuplicateRecord
		}
		if h := normalizeHash(p.Deposit.TxHash); h != "" {
			if _, exists := l.depositByHash[h]; exists {
				return PostingResult{}, ErrAlreadyCredited
			}
		}
	}
	if p.Transfer != nil && l.transferIDs[p.Transfer.ID] {
		return PostingResult{}, ErrDuplicateRecord
	}

	for _, b := range staged {
		l.balances[b.Key] = b
	}
	if p.Deposit != nil {
		l.deposits[p.Deposit.ID] = *p.Deposit
		if h := normalizeHash(p.Deposit.TxHash); h != "" {
			l.depositByHash[h] = p.Deposit.ID
		}
	}
	if p.Transfer != nil {
		l.transfers = append(l.transfers, *p.Transfer)
		l.transferIDs[p.Transfer.ID] = true
	}
	if p.Notification != nil {
		// The memory repository cannot fail.
		_ = l.notifications.Insert(ctx, *p.Notification)
	}
	return PostingResult{Balances: staged}, nil
}

func (l *inMemoryLedger) DepositByTxHash(_ context.Context, txHash string) (Deposit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.depositByHash[normalizeHash(txHash)]
	if !ok {
		return Deposit{}, ErrDepositNotFound
	}
	return l.deposits[id], nil
}

func (l *inMemoryLedger) TransfersByAccount(_ context.Context, accountID string, limit int) ([]InternalTransfer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []InternalTransfer
	for i := len(l.transfers) - 1; i >= 0; i-- {
		if l.transfers[i].AccountID != accountID {
			continue
		}
		out = append(out, l.transfers[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// normalizeHash trims surrounding whitespace only; base58 signatures are
// case-sensitive.
func normalizeHash(h string) string {
	return strings.TrimSpace(h)
}
