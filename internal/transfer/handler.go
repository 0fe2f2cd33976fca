package transfer

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/ledger"
	"github.com/congo-pay/exchange_ledger/internal/middleware"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a transfer HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	FromAccountType string          `json:"from_account_type"`
	ToAccountType   string          `json:"to_account_type"`
	Chain           string          `json:"chain"`
}

type balanceView struct {
	AccountType string          `json:"account_type"`
	Available   decimal.Decimal `json:"available"`
	Total       decimal.Decimal `json:"total"`
}

type transferView struct {
	TransferID      string          `json:"transfer_id"`
	Currency        string          `json:"currency"`
	Chain           string          `json:"chain,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	FromAccountType string          `json:"from_account_type"`
	ToAccountType   string          `json:"to_account_type"`
	Status          string          `json:"status"`
	CompletedAt     time.Time       `json:"completed_at"`
}

func toView(t ledger.InternalTransfer) transferView {
	return transferView{
		TransferID:      t.ID,
		Currency:        t.Currency,
		Chain:           t.Chain,
		Amount:          t.Amount,
		FromAccountType: string(t.From),
		ToAccountType:   string(t.To),
		Status:          t.Status,
		CompletedAt:     t.CompletedAt,
	}
}

// Transfer moves funds between the caller's own sub-accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Transfer(c.UserContext(), Input{
		AccountID: middleware.AccountID(c),
		Currency:  req.Currency,
		Amount:    req.Amount,
		From:      req.FromAccountType,
		To:        req.ToAccountType,
		Chain:     req.Chain,
	})
	if err != nil {
		return err
	}
	body := fiber.Map{
		"transfer_id": res.Transfer.ID,
		"status":      res.Transfer.Status,
		"balances": []balanceView{
			{AccountType: string(res.Transfer.From), Available: res.From.Available, Total: res.From.Total},
			{AccountType: string(res.Transfer.To), Available: res.To.Available, Total: res.To.Total},
		},
	}
	if res.NotificationError != "" {
		body["notification_error"] = res.NotificationError
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// History lists the caller's transfers, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	transfers, err := h.service.History(c.UserContext(), middleware.AccountID(c), c.QueryInt("limit", defaultHistoryLimit))
	if err != nil {
		return err
	}
	out := make([]transferView, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toView(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transfers": out})
}
