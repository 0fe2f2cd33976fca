package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func jwtApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTAuth(testSecret), func(c *fiber.Ctx) error {
		return c.SendString(AccountID(c))
	})
	return app
}

func TestJWTAuthExposesSubject(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "4000000001",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)

	resp, err := jwtApp().Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "4000000001" {
		t.Fatalf("expected subject echoed, got %d %q", resp.StatusCode, body)
	}
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-token",
		"expired": "Bearer " + signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "4000000001",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}),
		"no expiry": "Bearer " + signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "4000000001"}),
		"no subject": "Bearer " + signToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}),
		"wrong alg": "Bearer " + signToken(t, jwt.SigningMethodHS512, jwt.RegisteredClaims{
			Subject:   "4000000001",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}),
	}
	app := jwtApp()
	for name, header := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", name, err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
	}
}

func TestAdminKey(t *testing.T) {
	cases := []struct {
		configured string
		sent       string
		want       int
	}{
		{configured: "s3cret", sent: "s3cret", want: fiber.StatusOK},
		{configured: "s3cret", sent: "wrong", want: fiber.StatusUnauthorized},
		{configured: "", sent: "", want: fiber.StatusForbidden},
	}
	for _, tc := range cases {
		app := fiber.New()
		app.Post("/admin", AdminKey(tc.configured), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

		req := httptest.NewRequest(fiber.MethodPost, "/admin", nil)
		req.Header.Set(adminKeyHeader, tc.sent)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("key %q/%q: expected %d, got %d", tc.configured, tc.sent, tc.want, resp.StatusCode)
		}
	}
}
