package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDLocal  = "request_id"
)

type requestIDKey struct{}

// RequestID generates a unique request ID for each request and exposes it to
// handlers through both the fiber locals and the user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(RequestIDHeader, rid)
		c.Locals(requestIDLocal, rid)
		c.SetUserContext(context.WithValue(c.UserContext(), requestIDKey{}, rid))
		return c.Next()
	}
}

// RequestIDFromContext returns the request id stored by RequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

func requestID(c *fiber.Ctx) string {
	rid, _ := c.Locals(requestIDLocal).(string)
	return rid
}
