package account

import (
	"time"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
)

var (
	ErrDuplicateEmail    = apperr.New(apperr.KindConflict, "duplicate_email", "email already registered")
	ErrDuplicatePhone    = apperr.New(apperr.KindConflict, "duplicate_phone", "phone already registered")
	ErrDuplicateAddress  = apperr.New(apperr.KindConflict, "duplicate_address", "wallet address already assigned")
	ErrAllocationFailure = apperr.New(apperr.KindAllocation, "allocation_failure", "account identifier allocation failed")
	ErrAccountNotFound   = apperr.New(apperr.KindNotFound, "account_not_found", "account not found")
	ErrWalletNotFound    = apperr.New(apperr.KindNotFound, "wallet_not_found", "wallet not found")

	errReferralCodeTaken = apperr.New(apperr.KindConflict, "referral_code_taken", "referral code already in use")
	errUIDTaken          = apperr.New(apperr.KindConflict, "uid_taken", "account uid already in use")
)

// Account is a registered exchange customer. ID is the public UID.
type Account struct {
	ID              string
	Email           string
	Phone           string
	PasswordHash    string
	DerivationIndex uint32
	ReferralCode    string
	ReferredBy      string
	EmailVerified   bool
	PhoneVerified   bool
	KYCVerified     bool
	CreatedAt       time.Time
}

// Wallet is the permanent deposit address of an account on one chain.
type Wallet struct {
	ID              string
	AccountID       string
	Chain           string
	Network         string
	Currency        string
	Address         string
	DerivationIndex uint32
	CreatedAt       time.Time
}

// Referral links a referee to the account whose code they registered with.
type Referral struct {
	ID         string
	ReferrerID string
	RefereeID  string
	Code       string
	CreatedAt  time.Time
}
