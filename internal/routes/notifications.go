package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/exchange_ledger/internal/middleware"
	"github.com/congo-pay/exchange_ledger/internal/notification"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type notificationView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterNotificationRoutes exposes the caller's in-app notifications, newest first.
func RegisterNotificationRoutes(r fiber.Router, repo notification.Repository, auth fiber.Handler) {
	r.Get("/notifications", auth, func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultNotificationLimit)
		switch {
		case limit <= 0:
			limit = defaultNotificationLimit
		case limit > maxNotificationLimit:
			limit = maxNotificationLimit
		}
		records, err := repo.ListByAccount(c.UserContext(), middleware.AccountID(c), limit)
		if err != nil {
			return err
		}
		out := make([]notificationView, 0, len(records))
		for _, rec := range records {
			out = append(out, notificationView{ID: rec.ID, Kind: rec.Kind, Title: rec.Title, Body: rec.Body, CreatedAt: rec.CreatedAt})
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"notifications": out})
	})
}
