package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/http/util"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// signatureTolerance bounds clock skew accepted on signed merchant webhooks.
const signatureTolerance = 5 * time.Minute

// ConversionDeps groups dependencies required by conversion handlers.
type ConversionDeps struct {
	Logger      *zap.Logger
	Conversions service.ConversionService
	// WebhookSecret enables signature verification of inbound webhooks when set.
	WebhookSecret []byte
}

// ConversionHandler ingests merchant webhooks and exposes the conversion lifecycle.
type ConversionHandler struct {
	logger      *zap.Logger
	conversions service.ConversionService
	signer      *util.PayloadSigner
}

func NewConversionHandler(deps ConversionDeps) *ConversionHandler {
	h := &ConversionHandler{
		logger:      logger.OrNop(deps.Logger).Named("conversion_handler"),
		conversions: deps.Conversions,
	}
	if len(deps.WebhookSecret) > 0 {
		h.signer = util.NewPayloadSigner(deps.WebhookSecret, signatureTolerance)
	}
	return h
}

// Register wires conversion routes onto the provided router.
func (h *ConversionHandler) Register(router fiber.Router) {
	router.Post("/api/webhooks/conversion", h.HandleWebhook)

	conversions := router.Group("/api/conversions")
	{
		conversions.Get("/:id", h.GetConversion)
		conversions.Post("/:id/confirm", h.Confirm)
		conversions.Post("/:id/cancel", h.Cancel)
		conversions.Post("/:id/refund", h.Refund)
	}
}

// ConversionWebhookRequest is the merchant-reported purchase.
type ConversionWebhookRequest struct {
	OrderID        string             `json:"orderId" validate:"required"`
	ClickID        string             `json:"clickId" validate:"required"`
	UserID         string             `json:"userId,omitempty"`
	StoreID        string             `json:"storeId,omitempty"`
	StoreName      string             `json:"storeName,omitempty"`
	OrderValue     float64            `json:"orderValue" validate:"gte=0"`
	Currency       string             `json:"currency" validate:"required,len=3"`
	Commission     float64            `json:"commission,omitempty" validate:"gte=0"`
	CommissionRate float64            `json:"commissionRate,omitempty" validate:"gte=0,lte=100"`
	Products       []model.Product    `json:"products,omitempty"`
	CustomerInfo   model.CustomerInfo `json:"customerInfo"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// FraudResponse summarises the fraud screening of a new conversion.
type FraudResponse struct {
	RiskScore  int                    `json:"riskScore"`
	Level      string                 `json:"level"`
	Indicators []model.FraudIndicator `json:"indicators"`
}

// ConversionWebhookResponse reports how a merchant webhook was handled.
type ConversionWebhookResponse struct {
	Conversion  *model.ConversionEvent       `json:"conversion"`
	Duplicate   bool                         `json:"duplicate"`
	Fraud       *FraudResponse               `json:"fraud,omitempty"`
	Attribution *model.ConversionAttribution `json:"attribution,omitempty"`
}

// HandleWebhook handles POST /api/webhooks/conversion
func (h *ConversionHandler) HandleWebhook(c *fiber.Ctx) error {
	if h.signer != nil {
		if err := h.signer.Verify(c.Get(util.SignatureHeader), c.Body()); err != nil {
			h.logger.Warn("rejected unsigned conversion webhook", zap.String("ip", c.IP()), zap.Error(err))
			return respondError(c, fiber.StatusUnauthorized, "invalid signature")
		}
	}

	var req ConversionWebhookRequest
	if !bindJSON(c, &req) {
		return nil
	}

	result, err := h.conversions.HandleConversionWebhook(userContext(c), service.ConversionWebhookInput{
		OrderID:        req.OrderID,
		ClickID:        req.ClickID,
		UserID:         req.UserID,
		StoreID:        req.StoreID,
		StoreName:      req.StoreName,
		OrderValue:     req.OrderValue,
		Currency:       req.Currency,
		Commission:     req.Commission,
		CommissionRate: req.CommissionRate,
		Products:       req.Products,
		CustomerInfo:   req.CustomerInfo,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return respondServiceError(c, h.logger, "process conversion", err)
	}

	resp := ConversionWebhookResponse{
		Conversion:  result.Conversion,
		Duplicate:   result.Duplicate,
		Attribution: result.Attribution,
	}
	if result.Fraud != nil {
		resp.Fraud = &FraudResponse{
			RiskScore:  result.Fraud.RiskScore,
			Level:      result.Fraud.Level,
			Indicators: result.Fraud.Indicators,
		}
	}

	status := fiber.StatusCreated
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(resp)
}

// GetConversion handles GET /api/conversions/:id
func (h *ConversionHandler) GetConversion(c *fiber.Ctx) error {
	conv, err := h.conversions.GetConversion(userContext(c), c.Params("id"))
	if err != nil {
		return respondServiceError(c, h.logger, "get conversion", err)
	}
	return c.JSON(conv)
}

// Confirm handles POST /api/conversions/:id/confirm
func (h *ConversionHandler) Confirm(c *fiber.Ctx) error {
	conv, err := h.conversions.ConfirmConversion(userContext(c), c.Params("id"))
	if err != nil {
		return respondServiceError(c, h.logger, "confirm conversion", err)
	}
	return c.JSON(conv)
}

// CancelRequest carries an optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// Cancel handles POST /api/conversions/:id/cancel
func (h *ConversionHandler) Cancel(c *fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if !bindJSON(c, &req) {
			return nil
		}
	}

	conv, err := h.conversions.CancelConversion(userContext(c), c.Params("id"), req.Reason)
	if err != nil {
		return respondServiceError(c, h.logger, "cancel conversion", err)
	}
	return c.JSON(conv)
}

// RefundRequest refunds Amount of the order; a missing amount refunds it in full.
type RefundRequest struct {
	Amount float64 `json:"amount,omitempty" validate:"gte=0"`
	Reason string  `json:"reason,omitempty" validate:"max=500"`
}

// Refund handles POST /api/conversions/:id/refund
func (h *ConversionHandler) Refund(c *fiber.Ctx) error {
	var req RefundRequest
	if len(c.Body()) > 0 {
		if !bindJSON(c, &req) {
			return nil
		}
	}

	conv, err := h.conversions.RefundConversion(userContext(c), c.Params("id"), req.Amount, req.Reason)
	if err != nil {
		return respondServiceError(c, h.logger, "refund conversion", err)
	}
	return c.JSON(conv)
}
