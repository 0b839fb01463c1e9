package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// AnalyticsDeps groups dependencies required by analytics handlers.
type AnalyticsDeps struct {
	Logger    *zap.Logger
	Analytics service.AnalyticsService
}

// AnalyticsHandler serves read-only reporting endpoints.
type AnalyticsHandler struct {
	logger    *zap.Logger
	analytics service.AnalyticsService
}

func NewAnalyticsHandler(deps AnalyticsDeps) *AnalyticsHandler {
	return &AnalyticsHandler{
		logger:    logger.OrNop(deps.Logger).Named("analytics_handler"),
		analytics: deps.Analytics,
	}
}

// Register wires analytics routes onto the provided router.
func (h *AnalyticsHandler) Register(router fiber.Router) {
	analytics := router.Group("/api/analytics")
	{
		analytics.Get("/clicks", h.Clicks)
		analytics.Get("/conversions", h.Conversions)
		analytics.Get("/sources/top", h.TopSources)
	}
}

// Clicks handles GET /api/analytics/clicks?from=&to=
func (h *AnalyticsHandler) Clicks(c *fiber.Ctx) error {
	from, to, err := parseRange(c)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, err.Error())
	}
	summary, err := h.analytics.ClickSummary(userContext(c), from, to)
	if err != nil {
		return respondServiceError(c, h.logger, "load click summary", err)
	}
	return c.JSON(summary)
}

// Conversions handles GET /api/analytics/conversions?from=&to=
func (h *AnalyticsHandler) Conversions(c *fiber.Ctx) error {
	from, to, err := parseRange(c)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, err.Error())
	}
	summary, err := h.analytics.ConversionSummary(userContext(c), from, to)
	if err != nil {
		return respondServiceError(c, h.logger, "load conversion summary", err)
	}
	return c.JSON(summary)
}

// TopSources handles GET /api/analytics/sources/top?limit=
func (h *AnalyticsHandler) TopSources(c *fiber.Ctx) error {
	sources, err := h.analytics.TopSources(userContext(c), c.QueryInt("limit"))
	if err != nil {
		return respondServiceError(c, h.logger, "load top sources", err)
	}
	return c.JSON(fiber.Map{
		"sources": sources,
		"count":   len(sources),
	})
}

// parseRange reads optional RFC 3339 from/to query parameters.
func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	var from, to time.Time
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
		}
		*dst = t.UTC()
	}
	return from, to, nil
}
