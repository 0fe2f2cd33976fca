package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
)

func TestRegisterRateLimitPerEmail(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/register", RegisterRateLimit(cache, 2), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	send := func(email string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/register", strings.NewReader(`{"email":"`+email+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("A@x.com"); got != fiber.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i+1, got)
		}
	}
	if got := send("a@x.com"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := send("b@x.com"); got != fiber.StatusCreated {
		t.Fatalf("other email should pass, got %d", got)
	}
	if ttl := mr.TTL("rl:register:a@x.com"); ttl <= 0 {
		t.Fatalf("expected a window ttl, got %v", ttl)
	}
}

func TestRegisterRateLimitFailsOpen(t *testing.T) {
	app := fiber.New()
	app.Post("/register", RegisterRateLimit(nil, 1), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/register", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("expected 201 without redis, got %d", resp.StatusCode)
		}
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(fiber.NewError(fiber.StatusTeapot, "tea")); got != fiber.StatusTeapot {
		t.Fatalf("expected 418, got %d", got)
	}
	if got := StatusOf(apperr.New(apperr.KindInsufficientBalance, "insufficient_balance", "no")); got != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", got)
	}
}
