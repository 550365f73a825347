package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// PresentedKey returns the key a request carries as X-API-Key, as an
// Authorization bearer token, or as ?token= for EventSource clients that
// cannot set headers.
func PresentedKey(header, query func(string) string) string {
	if token := header("X-API-Key"); token != "" {
		return token
	}
	parts := strings.SplitN(header("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return query("token")
}

// VerifyKey checks presented against key in constant time. An empty key
// accepts every request.
func VerifyKey(presented, key string) error {
	if key == "" {
		return nil
	}
	if presented == "" {
		return ErrMissingKey
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// APIKeyMiddleware rejects requests that do not carry key. An empty key
// disables the check.
func APIKeyMiddleware(key string) fiber.Handler {
	return func(c fiber.Ctx) error {
		presented := PresentedKey(
			func(name string) string { return c.Get(name) },
			func(name string) string { return c.Query(name) },
		)
		if err := VerifyKey(presented, key); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "unauthorized",
			})
		}
		return c.Next()
	}
}
