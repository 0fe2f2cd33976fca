package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/congo-pay/exchange_ledger/internal/address"
	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/chains"
	"github.com/congo-pay/exchange_ledger/internal/metrics"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

const (
	referralCodeLength = 8
	createAttempts     = 3
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// UIDAllocator issues account identifiers.
type UIDAllocator interface {
	AllocateUID(ctx context.Context) (string, error)
}

// RegisterInput carries a registration request. PasswordHash is produced by
// the caller; the service never sees a clear-text password.
type RegisterInput struct {
	Email        string
	Phone        string
	PasswordHash string
	ReferralCode string
}

// Registration is the outcome of a successful registration.
// NotificationError is set when the welcome notification could not be sent.
type Registration struct {
	Account           Account
	Wallets           []Wallet
	Referral          *Referral
	NotificationError string
}

// Service provisions accounts and their deposit wallets.
type Service struct {
	repo     Repository
	ids      UIDAllocator
	deriver  *address.Deriver
	registry *chains.Registry
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new account service.
func NewService(repo Repository, ids UIDAllocator, deriver *address.Deriver, registry *chains.Registry, notifier notification.Notifier, logger *slog.Logger) *Service {
	if registry == nil {
		registry = chains.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ids:      ids,
		deriver:  deriver,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an account with one wallet per supported chain.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	email, phone, err := normalizeContact(in.Email, in.Phone)
	if err != nil {
		return Registration{}, err
	}
	if in.PasswordHash == "" {
		return Registration{}, apperr.Validation("password_required", "password is required")
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return Registration{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrAccountNotFound) {
		return Registration{}, err
	}
	if phone != "" {
		if _, err := s.repo.FindByPhone(ctx, phone); err == nil {
			return Registration{}, ErrDuplicatePhone
		} else if !errors.Is(err, ErrAccountNotFound) {
			return Registration{}, err
		}
	}

	referrer, err := s.resolveReferrer(ctx, in.ReferralCode)
	if err != nil {
		return Registration{}, err
	}

	var (
		acct    Account
		wallets []Wallet
		ref     *Referral
	)
	// A collision on the UID or the referral code is retried with fresh values.
	for attempt := 1; ; attempt++ {
		acct, wallets, ref, err = s.draft(ctx, email, phone, in.PasswordHash, referrer)
		if err != nil {
			return Registration{}, err
		}
		err = s.repo.CreateWithWallets(ctx, acct, wallets, ref)
		if err == nil || attempt == createAttempts {
			break
		}
		if !errors.Is(err, errReferralCodeTaken) && !errors.Is(err, errUIDTaken) {
			break
		}
		s.logger.Warn("account insert collided, retrying",
			slog.String("account_id", acct.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	if errors.Is(err, errUIDTaken) {
		return Registration{}, apperr.Wrap(ErrAllocationFailure, err)
	}
	if err != nil {
		return Registration{}, err
	}

	metrics.AccountsRegistered.Inc()
	s.logger.Info("account registered",
		slog.String("account_id", acct.ID),
		slog.Int("wallets", len(wallets)),
		slog.Bool("referred", ref != nil),
	)

	out := Registration{Account: acct, Wallets: wallets, Referral: ref}
	if err := s.notify(ctx, acct); err != nil {
		out.NotificationError = err.Error()
	}
	return out, nil
}

// draft allocates a UID and builds the account, its wallets and referral.
func (s *Service) draft(ctx context.Context, email, phone, passwordHash string, referrer *Account) (Account, []Wallet, *Referral, error) {
	uid, err := s.ids.AllocateUID(ctx)
	if err != nil {
		return Account{}, nil, nil, apperr.Wrap(ErrAllocationFailure, err)
	}
	index, err := address.IndexFromUID(uid)
	if err != nil {
		return Account{}, nil, nil, apperr.Wrap(ErrAllocationFailure, err)
	}
	derived, err := s.deriver.DeriveAll(uid, index)
	if err != nil {
		return Account{}, nil, nil, fmt.Errorf("derive wallets: %w", err)
	}

	now := s.now()
	acct := Account{
		ID:              uid,
		Email:           email,
		Phone:           phone,
		PasswordHash:    passwordHash,
		DerivationIndex: index,
		ReferralCode:    newReferralCode(),
		CreatedAt:       now,
	}
	wallets := make([]Wallet, 0, len(derived))
	for _, d := range derived {
		wallets = append(wallets, Wallet{
			ID:              uuid.NewString(),
			AccountID:       uid,
			Chain:           d.Chain.ID,
			Network:         d.Chain.Network,
			Currency:        d.Chain.Currency,
			Address:         d.Address,
			DerivationIndex: d.Index,
			CreatedAt:       now,
		})
	}
	var ref *Referral
	if referrer != nil {
		acct.ReferredBy = referrer.ID
		ref = &Referral{
			ID:         uuid.NewString(),
			ReferrerID: referrer.ID,
			RefereeID:  uid,
			Code:       referrer.ReferralCode,
			CreatedAt:  now,
		}
	}
	return acct, wallets, ref, nil
}

func (s *Service) resolveReferrer(ctx context.Context, code string) (*Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	referrer, err := s.repo.FindByReferralCode(ctx, code)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.Info("referral code ignored", slog.String("code", code))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &referrer, nil
}

func (s *Service) notify(ctx context.Context, acct Account) error {
	if s.notifier == nil {
		return nil
	}
	err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindAccountCreated,
		AccountID:   acct.ID,
		Destination: acct.Email,
		Subject:     "Welcome",
		Body:        fmt.Sprintf("Your account %s is ready.", acct.ID),
	})
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(notification.KindAccountCreated).Inc()
		s.logger.Warn("welcome notification failed", slog.String("account_id", acct.ID), slog.Any("error", err))
	}
	return err
}

// Get returns an account by UID.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

// Wallets lists the account's deposit wallets in chain registry order.
func (s *Service) Wallets(ctx context.Context, accountID string) ([]Wallet, error) {
	if _, err := s.repo.FindByID(ctx, accountID); err != nil {
		return nil, err
	}
	wallets, err := s.repo.Wallets(ctx, accountID)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int)
	for i, c := range s.registry.All() {
		rank[c.ID] = i
	}
	sort.SliceStable(wallets, func(i, j int) bool { return rank[wallets[i].Chain] < rank[wallets[j].Chain] })
	return wallets, nil
}

// ResolveWallet finds the wallet owning a deposit address. EVM addresses
// match regardless of checksum casing.
func (s *Service) ResolveWallet(ctx context.Context, addr string) (Wallet, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Wallet{}, apperr.Validation("address_required", "wallet address is required")
	}
	w, err := s.repo.WalletByAddress(ctx, addr)
	if errors.Is(err, ErrWalletNotFound) && common.IsHexAddress(addr) {
		if checksummed := common.HexToAddress(addr).Hex(); checksummed != addr {
			return s.repo.WalletByAddress(ctx, checksummed)
		}
	}
	return w, err
}

func normalizeContact(email, phone string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", "", apperr.Validation("invalid_email", "a valid email address is required")
	}
	phone = strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	if phone != "" && !phonePattern.MatchString(phone) {
		return "", "", apperr.Validation("invalid_phone", "phone must contain 6 to 15 digits")
	}
	return email, phone, nil
}

func newReferralCode() string {
	id := ulid.Make().String()
	return id[len(id)-referralCodeLength:]
}
