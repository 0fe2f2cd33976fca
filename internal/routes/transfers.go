package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/exchange_ledger/internal/transfer"
)

// RegisterTransferRoutes wires internal transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, auth, idempotent fiber.Handler) {
	r.Post("/transfers", auth, idempotent, h.Transfer)
	r.Get("/transfers", auth, h.History)
}
