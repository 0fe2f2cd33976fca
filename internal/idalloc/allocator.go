// Package idalloc issues account UIDs and day-scoped business identifiers.
//
// Every identifier comes from an atomic increment-and-read on a named counter,
// so concurrent callers never observe the same value. When the counter
// backend is unavailable the allocator can degrade to a coarse
// timestamp-derived identifier instead of failing the caller. Fallback
// identifiers live in a range the counters never issue: UIDs 4900000000 and
// above, and daily sequences 900000 and above.
package idalloc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/metrics"
)

const (
	// UIDBase is added to the uid counter; the first UID issued is UIDBase+1.
	UIDBase int64 = 4_000_000_000

	uidCounter = "uid"
	dayLayout  = "20060102"
	seqWidth   = 6

	// Counters issue 1..maxUIDSeq and 1..maxDailySeq; the values above are
	// reserved for fallback identifiers.
	maxUIDSeq         = 899_999_999
	uidFallbackBase   = 900_000_000
	uidFallbackSpan   = 100_000_000
	maxDailySeq       = 899_999
	dailyFallbackBase = 900_000
	dailyFallbackSpan = 100_000
)

// Prefixes for day-scoped identifiers.
const (
	PrefixDeposit  = "DEP"
	PrefixTransfer = "TRF"
)

var ErrAllocation = apperr.New(apperr.KindAllocation, "counter_unavailable", "identifier allocation failed")

// CounterStore performs an atomic increment-and-read on (name, scope),
// creating the counter at 1 when it does not exist.
type CounterStore interface {
	Next(ctx context.Context, name, scope string) (int64, error)
}

// Allocator hands out identifiers backed by a CounterStore.
type Allocator struct {
	store    CounterStore
	logger   *slog.Logger
	fallback bool
	now      func() time.Time

	// Fallback sequences, seeded from the clock and advanced per call so
	// identifiers issued in the same millisecond stay distinct.
	uidSeq   atomic.Int64
	dailySeq atomic.Int64
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithFallback toggles the timestamp fallback used when the store fails.
func WithFallback(enabled bool) Option {
	return func(a *Allocator) { a.fallback = enabled }
}

// WithClock overrides the time source used for fallback identifiers.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New builds an allocator. Fallback is enabled unless disabled via WithFallback.
func New(store CounterStore, logger *slog.Logger, opts ...Option) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Allocator{store: store, logger: logger, fallback: true, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	now := a.now()
	a.uidSeq.Store(now.UnixMilli() % uidFallbackSpan)
	a.dailySeq.Store(millisOfDay(now) / 1000 % dailyFallbackSpan)
	return a
}

// AllocateUID returns the next account UID: a 10-digit string starting with "4".
func (a *Allocator) AllocateUID(ctx context.Context) (string, error) {
	n, err := a.store.Next(ctx, uidCounter, "")
	if err != nil {
		if !a.fallback {
			return "", apperr.Wrap(ErrAllocation, err)
		}
		seq := a.uidSeq.Add(1) % uidFallbackSpan
		id := strconv.FormatInt(UIDBase+uidFallbackBase+seq, 10)
		a.degraded(uidCounter, id, err)
		return id, nil
	}
	if n > maxUIDSeq {
		return "", apperr.Wrap(ErrAllocation, fmt.Errorf("uid counter exhausted at %d", n))
	}
	return strconv.FormatInt(UIDBase+n, 10), nil
}

// AllocateDailyID returns "{prefix}{YYYYMMDD}{6-digit seq}" where the
// sequence restarts at 1 for each new day.
func (a *Allocator) AllocateDailyID(ctx context.Context, prefix string, day time.Time) (string, error) {
	dateKey := day.UTC().Format(dayLayout)
	n, err := a.store.Next(ctx, prefix, dateKey)
	if err != nil {
		if !a.fallback {
			return "", apperr.Wrap(ErrAllocation, err)
		}
		seq := a.dailySeq.Add(1) % dailyFallbackSpan
		id := FormatDaily(prefix, dateKey, dailyFallbackBase+seq)
		a.degraded(prefix+"@"+dateKey, id, err)
		return id, nil
	}
	if n > maxDailySeq {
		return "", apperr.Wrap(ErrAllocation, fmt.Errorf("%s counter exhausted for %s", prefix, dateKey))
	}
	return FormatDaily(prefix, dateKey, n), nil
}

// FormatDaily renders a day-scoped identifier.
func FormatDaily(prefix, dateKey string, seq int64) string {
	return fmt.Sprintf("%s%s%0*d", prefix, dateKey, seqWidth, seq)
}

func (a *Allocator) degraded(counter, id string, err error) {
	metrics.IDFallbacks.WithLabelValues(counter).Inc()
	a.logger.Warn("counter store unavailable, using timestamp identifier",
		slog.String("counter", counter),
		slog.String("id", id),
		slog.Any("error", err),
	)
}

func millisOfDay(t time.Time) int64 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight).Milliseconds()
}
