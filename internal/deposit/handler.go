package deposit

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/middleware"
)

// Handler exposes deposit endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a deposit HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type creditRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Currency      string          `json:"currency"`
	Chain         string          `json:"chain"`
	Amount        decimal.Decimal `json:"amount"`
	TxHash        string          `json:"tx_hash"`
	FromAddress   string          `json:"from_address"`
}

type balanceResponse struct {
	Available decimal.Decimal `json:"available"`
	Total     decimal.Decimal `json:"total"`
}

type creditResponse struct {
	DepositID         string          `json:"deposit_id"`
	Status            string          `json:"status"`
	Confirmations     int             `json:"confirmations"`
	Balance           balanceResponse `json:"balance"`
	NotificationError string          `json:"notification_error,omitempty"`
}

// Credit applies an operator-verified deposit.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Credit(c.UserContext(), CreditInput{
		WalletAddress: req.WalletAddress,
		Currency:      req.Currency,
		Chain:         req.Chain,
		Amount:        req.Amount,
		TxHash:        req.TxHash,
		FromAddress:   req.FromAddress,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(creditResponse{
		DepositID:     res.Deposit.ID,
		Status:        res.Deposit.Status,
		Confirmations: res.Deposit.Confirmations,
		Balance: balanceResponse{
			Available: res.Balance.Available,
			Total:     res.Balance.Total,
		},
		NotificationError: res.NotificationError,
	})
}

// Status reports whether a transaction hash was credited to the caller.
func (h *Handler) Status(c *fiber.Ctx) error {
	res, err := h.service.Status(c.UserContext(), middleware.AccountID(c), c.Query("tx_hash"))
	if err != nil {
		return err
	}
	body := fiber.Map{"exists": res.Exists}
	if res.Exists {
		body["deposit_id"] = res.DepositID
		body["status"] = res.Status
	}
	return c.Status(http.StatusOK).JSON(body)
}
