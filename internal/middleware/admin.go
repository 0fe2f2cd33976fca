package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey guards operator-only endpoints with a shared API key. An empty
// key disables the guarded routes entirely.
func AdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return fiber.NewError(http.StatusForbidden, "admin access disabled")
		}
		if subtle.ConstantTimeCompare([]byte(c.Get(adminKeyHeader)), []byte(key)) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid admin key")
		}
		return c.Next()
	}
}
