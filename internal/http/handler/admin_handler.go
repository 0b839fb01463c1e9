package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// AdminDeps groups dependencies required by the registration API.
type AdminDeps struct {
	Logger   *zap.Logger
	Registry service.RegistryService
}

// AdminHandler implements the rule, pixel and webhook registration endpoints.
type AdminHandler struct {
	logger   *zap.Logger
	registry service.RegistryService
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{
		logger:   logger.OrNop(deps.Logger).Named("admin_handler"),
		registry: deps.Registry,
	}
}

// Register wires registration routes onto the provided router.
func (h *AdminHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		rules := api.Group("/rules")
		{
			rules.Post("/", h.CreateRule)
			rules.Get("/", h.ListRules)
		}

		pixels := api.Group("/pixels")
		{
			pixels.Post("/", h.CreatePixel)
			pixels.Get("/", h.ListPixels)
		}

		webhooks := api.Group("/webhook-subscriptions")
		{
			webhooks.Post("/", h.CreateWebhookSubscription)
			webhooks.Get("/", h.ListWebhookSubscriptions)
		}
	}
}

// CreateRuleRequest represents the request body for creating a conversion rule.
type CreateRuleRequest struct {
	Name        string                `json:"name" validate:"required,max=255"`
	Description string                `json:"description,omitempty"`
	StoreID     string                `json:"storeId,omitempty"`
	Category    string                `json:"category,omitempty"`
	Priority    int                   `json:"priority"`
	Inactive    bool                  `json:"inactive,omitempty"`
	Conditions  []model.RuleCondition `json:"conditions" validate:"dive"`
	Actions     []model.RuleAction    `json:"actions" validate:"required,min=1"`
	ValidFrom   *time.Time            `json:"validFrom,omitempty"`
	ValidUntil  *time.Time            `json:"validUntil,omitempty"`
}

// CreateRule handles POST /api/rules
func (h *AdminHandler) CreateRule(c *fiber.Ctx) error {
	var req CreateRuleRequest
	if !bindJSON(c, &req) {
		return nil
	}

	rule, err := h.registry.CreateRule(userContext(c), service.CreateRuleInput{
		Name:        req.Name,
		Description: req.Description,
		StoreID:     req.StoreID,
		Category:    req.Category,
		Priority:    req.Priority,
		Inactive:    req.Inactive,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
	})
	if err != nil {
		return respondServiceError(c, h.logger, "create rule", err)
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

// ListRules handles GET /api/rules
func (h *AdminHandler) ListRules(c *fiber.Ctx) error {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed := c.QueryInt("offset"); parsed >= 0 {
			offset = parsed
		}
	}

	rules, err := h.registry.ListRules(userContext(c), limit, offset)
	if err != nil {
		return respondServiceError(c, h.logger, "list rules", err)
	}

	return c.JSON(fiber.Map{
		"rules":  rules,
		"limit":  limit,
		"offset": offset,
		"count":  len(rules),
	})
}

// CreatePixelRequest represents the request body for registering a tracking pixel.
type CreatePixelRequest struct {
	StoreID     string            `json:"storeId" validate:"required"`
	Name        string            `json:"name,omitempty"`
	URLTemplate string            `json:"urlTemplate" validate:"required"`
	Method      string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH get post put patch"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// CreatePixel handles POST /api/pixels
func (h *AdminHandler) CreatePixel(c *fiber.Ctx) error {
	var req CreatePixelRequest
	if !bindJSON(c, &req) {
		return nil
	}

	pixel, err := h.registry.CreatePixel(userContext(c), service.CreatePixelInput{
		StoreID:     req.StoreID,
		Name:        req.Name,
		URLTemplate: req.URLTemplate,
		Method:      req.Method,
		Parameters:  req.Parameters,
	})
	if err != nil {
		return respondServiceError(c, h.logger, "create pixel", err)
	}
	return c.Status(fiber.StatusCreated).JSON(pixel)
}

// ListPixels handles GET /api/pixels?storeId=
func (h *AdminHandler) ListPixels(c *fiber.Ctx) error {
	pixels, err := h.registry.ListPixels(userContext(c), c.Query("storeId"))
	if err != nil {
		return respondServiceError(c, h.logger, "list pixels", err)
	}
	return c.JSON(fiber.Map{
		"pixels": pixels,
		"count":  len(pixels),
	})
}

// CreateWebhookRequest represents the request body for subscribing a partner endpoint.
type CreateWebhookRequest struct {
	Name           string            `json:"name,omitempty"`
	URL            string            `json:"url" validate:"required,url"`
	Events         []string          `json:"events" validate:"required,min=1"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" validate:"min=0,max=60"`
	Secret         string            `json:"secret,omitempty"`
}

// CreateWebhookSubscription handles POST /api/webhook-subscriptions
func (h *AdminHandler) CreateWebhookSubscription(c *fiber.Ctx) error {
	var req CreateWebhookRequest
	if !bindJSON(c, &req) {
		return nil
	}

	sub, err := h.registry.CreateWebhookSubscription(userContext(c), service.CreateWebhookInput{
		Name:           req.Name,
		URL:            req.URL,
		Events:         req.Events,
		Method:         req.Method,
		Headers:        req.Headers,
		TimeoutSeconds: req.TimeoutSeconds,
		Secret:         req.Secret,
	})
	if err != nil {
		return respondServiceError(c, h.logger, "create webhook subscription", err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// ListWebhookSubscriptions handles GET /api/webhook-subscriptions
func (h *AdminHandler) ListWebhookSubscriptions(c *fiber.Ctx) error {
	subs, err := h.registry.ListWebhookSubscriptions(userContext(c))
	if err != nil {
		return respondServiceError(c, h.logger, "list webhook subscriptions", err)
	}
	return c.JSON(fiber.Map{
		"subscriptions": subs,
		"count":         len(subs),
	})
}
