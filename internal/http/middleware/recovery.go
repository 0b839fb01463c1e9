package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Recovery turns a panicking handler into a 500 response. The response body
// carries the request id so a failed webhook delivery can be traced in logs.
func Recovery(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			rid := requestID(c)
			log.Error("handler panicked",
				zap.Error(fmt.Errorf("panic: %v", r)),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("request_id", rid),
				zap.ByteString("stack", debug.Stack()),
			)

			body := fiber.Map{"error": "internal server error"}
			if rid != "" {
				body["requestId"] = rid
			}
			err = c.Status(fiber.StatusInternalServerError).JSON(body)
		}()

		return c.Next()
	}
}
