package handler

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// ClickIDParam is appended to redirect targets so merchants can echo it back.
const ClickIDParam = "click_id"

// TrackingDeps groups dependencies required by tracking handlers.
type TrackingDeps struct {
	Logger   *zap.Logger
	Recorder service.ClickRecorder
}

// TrackingHandler records clicks and redirects tracked links.
type TrackingHandler struct {
	logger   *zap.Logger
	recorder service.ClickRecorder
}

func NewTrackingHandler(deps TrackingDeps) *TrackingHandler {
	return &TrackingHandler{
		logger:   logger.OrNop(deps.Logger).Named("tracking_handler"),
		recorder: deps.Recorder,
	}
}

// Register wires tracking routes onto the provided router.
func (h *TrackingHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Post("/api/track/click", h.TrackClick)
	router.Get("/r/:clickId", h.Redirect)
}

// Health is a simple root endpoint so we know the service is running.
func (h *TrackingHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "PowerTrack",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// TrackClickRequest represents the request body for tracking a click.
type TrackClickRequest struct {
	UserID          string              `json:"userId" validate:"required"`
	TelegramUserID  string              `json:"telegramUserId,omitempty"`
	StoreID         string              `json:"storeId" validate:"required"`
	StoreName       string              `json:"storeName,omitempty"`
	OriginalURL     string              `json:"originalUrl" validate:"omitempty,url"`
	DestinationURL  string              `json:"destinationUrl,omitempty" validate:"omitempty,url"`
	Source          string              `json:"source" validate:"required,oneof=personal_channel group ai_recommendation search notification"`
	SourceDetails   model.SourceDetails `json:"sourceDetails"`
	AffiliateLinkID string              `json:"affiliateLinkId,omitempty"`
	CouponID        string              `json:"couponId,omitempty"`
	Referrer        string              `json:"referrer,omitempty"`
	DeviceInfo      map[string]string   `json:"deviceInfo,omitempty"`
	GeoLocation     map[string]string   `json:"geoLocation,omitempty"`
	UTMParams       map[string]string   `json:"utmParams,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

// TrackClickResponse is returned once a click is recorded.
type TrackClickResponse struct {
	ClickID     string    `json:"clickId"`
	SessionID   string    `json:"sessionId"`
	SourceID    string    `json:"sourceId"`
	RedirectURL string    `json:"redirectUrl"`
	ClickedAt   time.Time `json:"clickedAt"`
}

// TrackClick handles POST /api/track/click
func (h *TrackingHandler) TrackClick(c *fiber.Ctx) error {
	var req TrackClickRequest
	if !bindJSON(c, &req) {
		return nil
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = c.Get(fiber.HeaderReferer)
	}

	event, err := h.recorder.RecordClick(userContext(c), service.TrackClickInput{
		UserID:          req.UserID,
		TelegramUserID:  req.TelegramUserID,
		StoreID:         req.StoreID,
		StoreName:       req.StoreName,
		OriginalURL:     req.OriginalURL,
		DestinationURL:  req.DestinationURL,
		Source:          model.ClickSource(req.Source),
		SourceDetails:   req.SourceDetails,
		AffiliateLinkID: req.AffiliateLinkID,
		CouponID:        req.CouponID,
		UserAgent:       c.Get(fiber.HeaderUserAgent),
		IPAddress:       c.IP(),
		Referrer:        referrer,
		DeviceInfo:      req.DeviceInfo,
		GeoLocation:     req.GeoLocation,
		UTMParams:       req.UTMParams,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return respondServiceError(c, h.logger, "track click", err)
	}

	return c.Status(fiber.StatusCreated).JSON(TrackClickResponse{
		ClickID:     event.ClickID,
		SessionID:   event.SessionID,
		SourceID:    event.SourceID,
		RedirectURL: c.BaseURL() + "/r/" + event.ClickID,
		ClickedAt:   event.ClickedAt,
	})
}

// Redirect handles GET /r/:clickId and sends the visitor to the click target.
func (h *TrackingHandler) Redirect(c *fiber.Ctx) error {
	clickID := c.Params("clickId")
	event, err := h.recorder.ResolveClick(userContext(c), clickID)
	if err != nil {
		return respondServiceError(c, h.logger, "resolve click", err)
	}

	target, err := withClickID(event.RedirectTarget(), event.ClickID)
	if err != nil {
		h.logger.Error("stored click has an invalid target", logger.ClickID(clickID), zap.Error(err))
		return respondError(c, fiber.StatusInternalServerError, "failed to resolve click")
	}

	h.logger.Debug("redirecting click", logger.ClickID(clickID), zap.String("target", target))
	return c.Redirect(target, fiber.StatusFound)
}

func withClickID(raw, clickID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ClickIDParam, clickID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
