package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/exchange_ledger/internal/account"
)

// RegisterAccountRoutes wires registration and the profile endpoint.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, auth, rateLimiter fiber.Handler) {
	r.Post("/accounts/register", rateLimiter, h.Register)
	r.Get("/accounts/me", auth, h.Me)
}
