package rayid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// Header is the response header carrying the ray id.
	Header = "X-Ray-ID"
	// LocalsKey is the fiber locals key holding the ray id.
	LocalsKey = "ray_id"
)

// New creates a middleware assigning a ray id to every request. An incoming
// X-Ray-ID header is kept so that ids can follow a request across services.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(LocalsKey, id)
		c.Set(Header, id)
		return c.Next()
	}
}
