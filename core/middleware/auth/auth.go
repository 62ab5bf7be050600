package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// Header is the request header carrying the API key.
const Header = "X-API-Key"

// Config holds configuration for the auth middleware.
type Config struct {
	// ApiKey is the expected key. An empty key disables the check.
	ApiKey string
	// Skip lists paths served without a key.
	Skip []string
}

// New creates a middleware rejecting requests without the configured API key.
func New(cfg Config) fiber.Handler {
	skip := make(map[string]bool, len(cfg.Skip))
	for _, p := range cfg.Skip {
		skip[p] = true
	}

	return func(c *fiber.Ctx) error {
		if cfg.ApiKey == "" || skip[c.Path()] {
			return c.Next()
		}

		key := c.Get(Header)
		if key == "" {
			key = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.ApiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or missing API key",
			})
		}
		return c.Next()
	}
}
