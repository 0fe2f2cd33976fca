package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/exchange_ledger/internal/deposit"
)

// RegisterDepositRoutes wires the operator credit endpoint and the status lookup.
func RegisterDepositRoutes(r fiber.Router, h *deposit.Handler, auth, admin, idempotent fiber.Handler) {
	r.Post("/deposits/credit", admin, idempotent, h.Credit)
	r.Get("/deposits/status", auth, h.Status)
}
