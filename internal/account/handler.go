package account

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
	"github.com/congo-pay/exchange_ledger/internal/middleware"
)

const minPasswordLength = 8

// Handler exposes account endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

type walletResponse struct {
	Chain    string `json:"chain"`
	Network  string `json:"network"`
	Currency string `json:"currency"`
	Address  string `json:"address"`
}

type registerResponse struct {
	AccountID         string           `json:"account_id"`
	ReferralCode      string           `json:"referral_code"`
	Wallets           []walletResponse `json:"wallets"`
	NotificationError string           `json:"notification_error,omitempty"`
}

type accountResponse struct {
	AccountID     string           `json:"account_id"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone,omitempty"`
	ReferralCode  string           `json:"referral_code"`
	ReferredBy    string           `json:"referred_by,omitempty"`
	EmailVerified bool             `json:"email_verified"`
	PhoneVerified bool             `json:"phone_verified"`
	KYCVerified   bool             `json:"kyc_verified"`
	CreatedAt     time.Time        `json:"created_at"`
	Wallets       []walletResponse `json:"wallets"`
}

func toWalletResponses(wallets []Wallet) []walletResponse {
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, walletResponse{Chain: w.Chain, Network: w.Network, Currency: w.Currency, Address: w.Address})
	}
	return out
}

// Register handles account onboarding. The password is hashed here so the
// service only ever handles the hash.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if len(req.Password) < minPasswordLength {
		return apperr.Validation("weak_password", "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Validation("invalid_password", err.Error())
	}

	reg, err := h.service.Register(c.UserContext(), RegisterInput{
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{
		AccountID:         reg.Account.ID,
		ReferralCode:      reg.Account.ReferralCode,
		Wallets:           toWalletResponses(reg.Wallets),
		NotificationError: reg.NotificationError,
	})
}

// Me returns the authenticated account with its wallets.
func (h *Handler) Me(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	acct, err := h.service.Get(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	wallets, err := h.service.Wallets(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(accountResponse{
		AccountID:     acct.ID,
		Email:         acct.Email,
		Phone:         acct.Phone,
		ReferralCode:  acct.ReferralCode,
		ReferredBy:    acct.ReferredBy,
		EmailVerified: acct.EmailVerified,
		PhoneVerified: acct.PhoneVerified,
		KYCVerified:   acct.KYCVerified,
		CreatedAt:     acct.CreatedAt,
		Wallets:       toWalletResponses(wallets),
	})
}
