package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const accountIDLocal = "account_id"

// JWTAuth validates HS256 access tokens issued by the session service and
// exposes the verified subject as the caller's account id.
func JWTAuth(secret []byte) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, "token has no subject")
		}

		c.Locals(accountIDLocal, claims.Subject)
		return c.Next()
	}
}

// AccountID returns the verified account id set by JWTAuth.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(accountIDLocal).(string)
	return id
}
