package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	appmetrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
	// Group labels the limited route group in keys and metrics.
	Group string
	// KeyFunc identifies the caller; defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 300,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
		Group:       "default",
	}
}

// RateLimit creates a fixed-window rate limiting middleware using Redis.
// Requests are allowed when Redis is unavailable.
func RateLimit(client redis.Cmdable, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	defaults := DefaultRateLimitConfig()
	if config.MaxRequests <= 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}

	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		key := config.KeyPrefix + ":" + config.Group + ":" + config.KeyFunc(c)

		var incr *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, config.Window)
			return nil
		})
		if err != nil {
			logger.Error("rate limit redis error", zap.Error(err))
			return c.Next()
		}

		count := incr.Val()
		remaining := config.MaxRequests - int(count)
		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, remaining)))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10))

		if count > int64(config.MaxRequests) {
			appmetrics.RateLimited.WithLabelValues(config.Group).Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
