package idalloc

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/exchange_ledger/internal/logging"
)

type failingStore struct{}

func (failingStore) Next(context.Context, string, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAllocateUIDStartsAtBase(t *testing.T) {
	a := New(NewMemoryStore(), logging.Discard())
	ctx := context.Background()

	first, err := a.AllocateUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000000001", first)

	second, err := a.AllocateUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000000002", second)
}

func TestAllocateUIDConcurrentCallersNeverCollide(t *testing.T) {
	a := New(NewMemoryStore(), logging.Discard())
	ctx := context.Background()

	const workers = 64
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.AllocateUID(ctx)
			if err != nil {
				t.Errorf("allocate %d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, workers)
	for _, id := range ids {
		assert.Len(t, id, 10)
		assert.True(t, strings.HasPrefix(id, "4"))
		assert.False(t, seen[id], "duplicate uid %s", id)
		seen[id] = true
	}
}

func TestAllocateDailyIDSequenceAndRollover(t *testing.T) {
	a := New(NewMemoryStore(), logging.Discard())
	ctx := context.Background()
	day := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := a.AllocateDailyID(ctx, PrefixDeposit, day)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, "DEP20261016000001", ids[0])
	assert.Equal(t, "DEP20261016000005", ids[4])
	assert.True(t, sort.StringsAreSorted(ids))

	next, err := a.AllocateDailyID(ctx, PrefixDeposit, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "DEP20261017000001", next)

	other, err := a.AllocateDailyID(ctx, PrefixTransfer, day)
	require.NoError(t, err)
	assert.Equal(t, "TRF20261016000001", other, "prefixes keep separate sequences")
}

func TestAllocateDailyIDConcurrentSameDay(t *testing.T) {
	a := New(NewMemoryStore(), logging.Discard())
	ctx := context.Background()
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	const workers = 50
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.AllocateDailyID(ctx, PrefixTransfer, day)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("duplicate id %s", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers)
}

func TestFallbackWhenStoreUnavailable(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 10, 16, 0, 0, 1, 500_000_000, time.UTC) }
	a := New(failingStore{}, logging.Discard(), WithClock(clock))
	ctx := context.Background()

	uid, err := a.AllocateUID(ctx)
	require.NoError(t, err)
	assert.Len(t, uid, 10)
	assert.True(t, strings.HasPrefix(uid, "49"), "fallback uid %s outside the reserved range", uid)

	id, err := a.AllocateDailyID(ctx, PrefixDeposit, clock())
	require.NoError(t, err)
	assert.Equal(t, "DEP20261016900002", id)
}

func TestFallbackIDsAreDistinctWithinOneMillisecond(t *testing.T) {
	frozen := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	a := New(failingStore{}, logging.Discard(), WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	const n = 2000
	uids := make(map[string]bool, n)
	daily := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		uid, err := a.AllocateUID(ctx)
		require.NoError(t, err)
		require.False(t, uids[uid], "duplicate fallback uid %s", uid)
		uids[uid] = true

		id, err := a.AllocateDailyID(ctx, PrefixDeposit, frozen)
		require.NoError(t, err)
		require.False(t, daily[id], "duplicate fallback id %s", id)
		require.Len(t, id, len("DEP20261016")+seqWidth)
		daily[id] = true
	}
}

func TestFallbackIDsAreDistinctUnderConcurrency(t *testing.T) {
	a := New(failingStore{}, logging.Discard())
	ctx := context.Background()

	const workers = 64
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := a.AllocateDailyID(ctx, PrefixTransfer, time.Now())
				if err != nil {
					t.Errorf("allocate: %v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*20)
}

type fixedStore struct{ n int64 }

func (s fixedStore) Next(context.Context, string, string) (int64, error) { return s.n, nil }

func TestCountersNeverEnterFallbackRange(t *testing.T) {
	ctx := context.Background()

	last, err := New(fixedStore{n: maxUIDSeq}, logging.Discard()).AllocateUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4899999999", last)

	_, err = New(fixedStore{n: maxUIDSeq + 1}, logging.Discard()).AllocateUID(ctx)
	assert.ErrorIs(t, err, ErrAllocation)

	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	lastDaily, err := New(fixedStore{n: maxDailySeq}, logging.Discard()).AllocateDailyID(ctx, PrefixDeposit, day)
	require.NoError(t, err)
	assert.Equal(t, "DEP20261016899999", lastDaily)

	_, err = New(fixedStore{n: maxDailySeq + 1}, logging.Discard()).AllocateDailyID(ctx, PrefixDeposit, day)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestNoFallbackReturnsAllocationError(t *testing.T) {
	a := New(failingStore{}, logging.Discard(), WithFallback(false))
	ctx := context.Background()

	_, err := a.AllocateUID(ctx)
	assert.ErrorIs(t, err, ErrAllocation)

	_, err = a.AllocateDailyID(ctx, PrefixTransfer, time.Now())
	assert.ErrorIs(t, err, ErrAllocation)
}
