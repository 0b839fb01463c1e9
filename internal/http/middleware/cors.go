package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS returns a CORS middleware for the comma separated allowed origins;
// "*" or an empty list allows every origin.
func CORS(allowedOrigins string) fiber.Handler {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case allowAll:
			c.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Set("Access-Control-Allow-Origin", origin)
			c.Vary(fiber.HeaderOrigin)
		}
		c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-PowerTrack-Signature")
		c.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-Request-ID")
		c.Set("Access-Control-Max-Age", "86400")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
