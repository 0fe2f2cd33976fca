package account

import (
	"context"
	"strings"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	byEmail   map[string]string
	byPhone   map[string]string
	byCode    map[string]string
	wallets   map[string][]Wallet
	byAddress map[string]Wallet
	referrals []Referral
}

// NewMemoryRepository builds an in-memory account store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		accounts:  make(map[string]Account),
		byEmail:   make(map[string]string),
		byPhone:   make(map[string]string),
		byCode:    make(map[string]string),
		wallets:   make(map[string][]Wallet),
		byAddress: make(map[string]Wallet),
	}
}

func (r *memoryRepository) CreateWithWallets(_ context.Context, acct Account, wallets []Wallet, ref *Referral) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[acct.ID]; exists {
		return errUIDTaken
	}
	if _, exists := r.byEmail[acct.Email]; exists {
		return ErrDuplicateEmail
	}
	if _, exists := r.byPhone[acct.Phone]; acct.Phone != "" && exists {
		return ErrDuplicatePhone
	}
	if _, exists := r.byCode[acct.ReferralCode]; exists {
		return errReferralCodeTaken
	}
	seen := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		if _, exists := r.byAddress[w.Address]; exists || seen[w.Address] {
			return ErrDuplicateAddress
		}
		seen[w.Address] = true
	}

	r.accounts[acct.ID] = acct
	r.byEmail[acct.Email] = acct.ID
	if acct.Phone != "" {
		r.byPhone[acct.Phone] = acct.ID
	}
	r.byCode[acct.ReferralCode] = acct.ID
	r.wallets[acct.ID] = append([]Wallet(nil), wallets...)
	for _, w := range wallets {
		r.byAddress[w.Address] = w
	}
	if ref != nil {
		r.referrals = append(r.referrals, *ref)
	}
	return nil
}

func (r *memoryRepository) lookup(index map[string]string, key string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return r.accounts[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	return r.lookup(r.byEmail, email)
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Account, error) {
	return r.lookup(r.byPhone, phone)
}

func (r *memoryRepository) FindByReferralCode(_ context.Context, code string) (Account, error) {
	return r.lookup(r.byCode, strings.ToUpper(code))
}

func (r *memoryRepository) Wallets(_ context.Context, accountID string) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Wallet(nil), r.wallets[accountID]...), nil
}

func (r *memoryRepository) WalletByAddress(_ context.Context, address string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byAddress[address]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}
