package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/exchange_ledger/internal/ledger"
	"github.com/congo-pay/exchange_ledger/internal/middleware"
)

type balanceView struct {
	Currency  string          `json:"currency"`
	Chain     string          `json:"chain,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Frozen    decimal.Decimal `json:"frozen"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RegisterBalanceRoutes exposes a GET endpoint listing the caller's funding and unified trading balances.
func RegisterBalanceRoutes(r fiber.Router, store ledger.Store, auth fiber.Handler) {
	r.Get("/balances", auth, func(c *fiber.Ctx) error {
		balances, err := store.Balances(c.UserContext(), middleware.AccountID(c))
		if err != nil {
			return err
		}
		funding := make([]balanceView, 0)
		unified := make([]balanceView, 0)
		for _, b := range balances {
			v := balanceView{
				Currency:  b.Key.Currency,
				Chain:     b.Key.Chain,
				Total:     b.Total,
				Available: b.Available,
				Locked:    b.Locked,
				Frozen:    b.Frozen,
				UpdatedAt: b.UpdatedAt,
			}
			if b.Key.SubAccount == ledger.UnifiedTrading {
				unified = append(unified, v)
			} else {
				funding = append(funding, v)
			}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"funding":         funding,
			"unified_trading": unified,
		})
	})
}
