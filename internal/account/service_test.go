package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/exchange_ledger/internal/address"
	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/chains"
	"github.com/congo-pay/exchange_ledger/internal/idalloc"
	"github.com/congo-pay/exchange_ledger/internal/logging"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

const testHash = "$2a$10$abcdefghijklmnopqrstuv"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return n.err
}

type failingAllocator struct{}

func (failingAllocator) AllocateUID(context.Context) (string, error) {
	return "", errors.New("counter store down")
}

type failingRepo struct {
	Repository
}

func (failingRepo) CreateWithWallets(context.Context, Account, []Wallet, *Referral) error {
	return errors.New("insert wallet: connection reset")
}

type fixture struct {
	svc      *Service
	repo     Repository
	notifier *recordingNotifier
	deriver  *address.Deriver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	deriver, err := address.NewDeriver("test-seed", chains.Default())
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	ids := idalloc.New(idalloc.NewMemoryStore(), logging.Discard())
	return fixture{
		svc:      NewService(repo, ids, deriver, chains.Default(), notifier, logging.Discard()),
		repo:     repo,
		notifier: notifier,
		deriver:  deriver,
	}
}

func TestRegisterFirstAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, RegisterInput{Email: " A@x.com ", PasswordHash: testHash})
	require.NoError(t, err)

	assert.Equal(t, "4000000001", reg.Account.ID)
	assert.Equal(t, "a@x.com", reg.Account.Email)
	assert.Equal(t, uint32(1), reg.Account.DerivationIndex)
	assert.Len(t, reg.Account.ReferralCode, referralCodeLength)
	require.Len(t, reg.Wallets, len(chains.Default().All()))

	byChain := map[string]Wallet{}
	for _, w := range reg.Wallets {
		byChain[w.Chain] = w
		want, err := f.deriver.Derive("4000000001", w.Chain, 1)
		require.NoError(t, err)
		assert.Equal(t, want, w.Address, "wallet for %s must be derived from the uid", w.Chain)
	}

	hrp, _, err := bech32.Decode(byChain["BTC"].Address)
	require.NoError(t, err)
	assert.Equal(t, "bc", hrp)
	assert.True(t, common.IsHexAddress(byChain["ETH"].Address))
	assert.True(t, strings.HasPrefix(byChain["ETH"].Address, "0x"))
	assert.Equal(t, "ERC20", byChain["ETH"].Network)
	assert.Equal(t, "ETH", byChain["ETH"].Currency)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notification.KindAccountCreated, f.notifier.sent[0].Kind)
	assert.Empty(t, reg.NotificationError)
}

func TestRegisterDuplicateEmailCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "A@X.com", PasswordHash: testHash})
	require.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.repo.FindByID(ctx, "4000000002")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRegisterDuplicatePhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Phone: "+242 061234567", PasswordHash: testHash})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "b@x.com", Phone: "+242061234567", PasswordHash: testHash})
	assert.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	cases := []RegisterInput{
		{Email: "not-an-email", PasswordHash: testHash},
		{Email: "Alice <a@x.com>", PasswordHash: testHash},
		{Email: "a@x.com"},
		{Email: "a@x.com", Phone: "12ab", PasswordHash: testHash},
	}
	for _, in := range cases {
		_, err := f.svc.Register(context.Background(), in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "input %+v", in)
	}
}

func TestRegisterReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	referrer, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)

	referee, err := f.svc.Register(ctx, RegisterInput{
		Email:        "b@x.com",
		PasswordHash: testHash,
		ReferralCode: strings.ToLower(referrer.Account.ReferralCode),
	})
	require.NoError(t, err)
	require.NotNil(t, referee.Referral)
	assert.Equal(t, referrer.Account.ID, referee.Referral.ReferrerID)
	assert.Equal(t, referee.Account.ID, referee.Referral.RefereeID)
	assert.Equal(t, referrer.Account.ID, referee.Account.ReferredBy)

	unmatched, err := f.svc.Register(ctx, RegisterInput{Email: "c@x.com", PasswordHash: testHash, ReferralCode: "NOPE0000"})
	require.NoError(t, err)
	assert.Nil(t, unmatched.Referral)
	assert.Empty(t, unmatched.Account.ReferredBy)
}

func TestRegisterAllocationFailure(t *testing.T) {
	repo := NewMemoryRepository()
	deriver, err := address.NewDeriver("test-seed", nil)
	require.NoError(t, err)
	svc := NewService(repo, failingAllocator{}, deriver, nil, nil, logging.Discard())

	_, err = svc.Register(context.Background(), RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.ErrorIs(t, err, ErrAllocationFailure)
	assert.Equal(t, apperr.KindAllocation, apperr.KindOf(err))
	_, err = repo.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRegisterPersistFailureLeavesNoAccount(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingRepo{Repository: f.repo}, idalloc.New(idalloc.NewMemoryStore(), nil), f.deriver, nil, f.notifier, logging.Discard())

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.Error(t, err)
	_, err = f.repo.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Empty(t, f.notifier.sent)
}

func TestRegisterNotificationFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp relay down")

	reg, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)
	assert.Contains(t, reg.NotificationError, "smtp relay down")

	_, err = f.repo.FindByID(context.Background(), reg.Account.ID)
	assert.NoError(t, err)
}

func TestRegisterConcurrentUniqueIdentifiers(t *testing.T) {
	f := newFixture(t)
	const n = 25

	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg, err := f.svc.Register(context.Background(), RegisterInput{Email: fmt.Sprintf("user%d@x.com", i), PasswordHash: testHash})
			if err == nil {
				ids[i] = reg.Account.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate uid %s", id)
		seen[id] = true
	}
}

func TestWalletsAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)

	wallets, err := f.svc.Wallets(ctx, reg.Account.ID)
	require.NoError(t, err)
	for i, c := range chains.Default().All() {
		assert.Equal(t, c.ID, wallets[i].Chain)
	}

	var eth Wallet
	for _, w := range wallets {
		if w.Chain == "ETH" {
			eth = w
		}
	}
	got, err := f.svc.ResolveWallet(ctx, strings.ToLower(eth.Address))
	require.NoError(t, err)
	assert.Equal(t, eth.ID, got.ID)

	_, err = f.svc.ResolveWallet(ctx, "bc1qnotours")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = f.svc.Wallets(ctx, "4999999999")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

type scriptedAllocator struct {
	mu  sync.Mutex
	ids []string
}

func (a *scriptedAllocator) AllocateUID(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.ids[0]
	if len(a.ids) > 1 {
		a.ids = a.ids[1:]
	}
	return id, nil
}

type downCounters struct{}

func (downCounters) Next(context.Context, string, string) (int64, error) {
	return 0, errors.New("counters table unreachable")
}

func TestRegisterWithFallbackUIDsNeverCollides(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, idalloc.New(downCounters{}, logging.Discard()), f.deriver, nil, nil, logging.Discard())
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		reg, err := svc.Register(ctx, RegisterInput{Email: fmt.Sprintf("user%d@x.com", i), PasswordHash: testHash})
		require.NoError(t, err, "registration %d", i)
		assert.False(t, seen[reg.Account.ID], "duplicate uid %s", reg.Account.ID)
		seen[reg.Account.ID] = true
	}
}

func TestRegisterRetriesTakenUID(t *testing.T) {
	f := newFixture(t)
	ids := &scriptedAllocator{ids: []string{"4900000001", "4900000001", "4900000002"}}
	svc := NewService(f.repo, ids, f.deriver, nil, nil, logging.Discard())
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)
	assert.Equal(t, "4900000001", first.Account.ID)

	second, err := svc.Register(ctx, RegisterInput{Email: "b@x.com", PasswordHash: testHash})
	require.NoError(t, err)
	assert.Equal(t, "4900000002", second.Account.ID)
}

func TestRegisterTakenUIDBecomesAllocationFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, &scriptedAllocator{ids: []string{"4900000001"}}, f.deriver, nil, nil, logging.Discard())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", PasswordHash: testHash})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "b@x.com", PasswordHash: testHash})
	require.ErrorIs(t, err, ErrAllocationFailure)
	assert.Equal(t, apperr.KindAllocation, apperr.KindOf(err))
	_, err = f.repo.FindByEmail(ctx, "b@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryRepositoryWalletCollisionLeavesNoAccount(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateWithWallets(ctx,
		Account{ID: "4000000001", Email: "a@x.com", ReferralCode: "AAAAAAAA"},
		[]Wallet{{ID: "w1", AccountID: "4000000001", Chain: "ETH", Address: "0xshared"}}, nil))

	err := repo.CreateWithWallets(ctx,
		Account{ID: "4000000002", Email: "b@x.com", Phone: "+242060000000", ReferralCode: "BBBBBBBB"},
		[]Wallet{
			{ID: "w2", AccountID: "4000000002", Chain: "BTC", Address: "bc1fresh"},
			{ID: "w3", AccountID: "4000000002", Chain: "ETH", Address: "0xshared"},
		}, nil)
	require.ErrorIs(t, err, ErrDuplicateAddress)

	_, err = repo.FindByID(ctx, "4000000002")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.FindByEmail(ctx, "b@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.FindByPhone(ctx, "+242060000000")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.WalletByAddress(ctx, "bc1fresh")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	owner, err := repo.WalletByAddress(ctx, "0xshared")
	require.NoError(t, err)
	assert.Equal(t, "4000000001", owner.AccountID)
}
