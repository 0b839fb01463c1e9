package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/http/util"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	appmetrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	userAgent          = "PowerTrack-Notifier/1.0"
	eventHeader        = "X-PowerTrack-Event"
	deliveryHeader     = "X-PowerTrack-Delivery"
	maxParallelSends   = 8
	maxResponseDrained = 64 << 10
)

// errPermanent stops retries for responses that will not succeed on resend.
var errPermanent = errors.New("permanent delivery failure")

// HTTPDoer sends outbound requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NotifierDeps groups the collaborators of the notifier.
type NotifierDeps struct {
	Pixels      repository.PixelRepository
	Webhooks    repository.WebhookSubscriptionRepository
	DeadLetters repository.DeadLetterRepository
	Client      HTTPDoer
	Config      config.NotifierConfig
	Logger      *zap.Logger
}

// Notifier fires tracking pixels and partner webhooks for queued intents.
type Notifier struct {
	pixels      repository.PixelRepository
	webhooks    repository.WebhookSubscriptionRepository
	deadLetters repository.DeadLetterRepository
	client      HTTPDoer
	cfg         config.NotifierConfig
	logger      *zap.Logger
	nowFn       func() time.Time
}

func NewNotifier(deps NotifierDeps) *Notifier {
	cfg := deps.Config
	if cfg.PixelTimeout <= 0 {
		cfg.PixelTimeout = 5 * time.Second
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{
		pixels:      deps.Pixels,
		webhooks:    deps.Webhooks,
		deadLetters: deps.DeadLetters,
		client:      client,
		cfg:         cfg,
		logger:      logger.OrNop(deps.Logger).Named("notifier"),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

// WebhookEnvelope is the JSON body delivered to subscribers.
type WebhookEnvelope struct {
	ID         string                   `json:"id"`
	Event      string                   `json:"event"`
	OccurredAt time.Time                `json:"occurredAt"`
	Template   string                   `json:"template,omitempty"`
	Data       model.NotificationIntent `json:"data"`
}

type delivery struct {
	sub   model.WebhookSubscription
	event string
	body  []byte
}

// Dispatch delivers one intent. Only lookup failures are returned, so the
// queue can redeliver; individual delivery failures are recorded and logged.
func (n *Notifier) Dispatch(ctx context.Context, intent model.NotificationIntent) error {
	subs, err := n.webhooks.ListActiveForEvent(ctx, intent.Event)
	if err != nil {
		return fmt.Errorf("list webhook subscriptions: %w", err)
	}

	var pixels []model.TrackingPixel
	if intent.Event == model.EventConversionCreated && intent.StoreID != "" {
		if pixels, err = n.pixels.ListActiveByStore(ctx, intent.StoreID); err != nil {
			return fmt.Errorf("list tracking pixels: %w", err)
		}
	}

	var userSubs []model.WebhookSubscription
	if len(intent.Notifications) > 0 {
		if userSubs, err = n.webhooks.ListActiveForEvent(ctx, model.EventUserNotification); err != nil {
			return fmt.Errorf("list notification subscriptions: %w", err)
		}
	}

	deliveries, err := n.plan(intent, subs, userSubs)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSends)
	for i := range pixels {
		pixel := pixels[i]
		g.Go(func() error {
			n.firePixel(gctx, pixel, intent)
			return nil
		})
	}
	for _, d := range deliveries {
		d := d
		g.Go(func() error {
			n.deliverWebhook(gctx, d, intent.ID)
			return nil
		})
	}
	return g.Wait()
}

// plan builds webhook bodies for subscribers, rule-triggered endpoints and
// user notification templates.
func (n *Notifier) plan(intent model.NotificationIntent, subs, userSubs []model.WebhookSubscription) ([]delivery, error) {
	body, err := json.Marshal(WebhookEnvelope{ID: intent.ID, Event: intent.Event, OccurredAt: intent.OccurredAt, Data: intent})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	deliveries := make([]delivery, 0, len(subs)+len(intent.RuleWebhooks))
	for _, sub := range subs {
		deliveries = append(deliveries, delivery{sub: sub, event: intent.Event, body: body})
	}
	for _, u := range intent.RuleWebhooks {
		deliveries = append(deliveries, delivery{
			sub:   model.WebhookSubscription{URL: u, Method: http.MethodPost},
			event: intent.Event,
			body:  body,
		})
	}

	for _, template := range intent.Notifications {
		tb, err := json.Marshal(WebhookEnvelope{
			ID:         intent.ID,
			Event:      model.EventUserNotification,
			OccurredAt: intent.OccurredAt,
			Template:   template,
			Data:       intent,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal notification payload: %w", err)
		}
		for _, sub := range userSubs {
			deliveries = append(deliveries, delivery{sub: sub, event: model.EventUserNotification, body: tb})
		}
	}
	return deliveries, nil
}

func (n *Notifier) firePixel(ctx context.Context, pixel model.TrackingPixel, intent model.NotificationIntent) {
	target := RenderPixelURL(pixel.URLTemplate, pixelValues(pixel, intent))
	method := strings.ToUpper(pixel.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.PixelTimeout)
	defer cancel()

	err := n.send(ctx, method, target, nil, map[string]string{"User-Agent": userAgent})
	ok := err == nil
	n.observe("pixel", ok)
	if !ok {
		n.logger.Warn("pixel fire failed",
			zap.String("pixel_id", pixel.ID),
			logger.OrderID(intent.OrderID),
			zap.Error(err),
		)
	}
	if pixel.ID != "" {
		if err := n.pixels.RecordFire(context.WithoutCancel(ctx), pixel.ID, ok, n.nowFn()); err != nil {
			n.logger.Warn("failed to record pixel stats", zap.String("pixel_id", pixel.ID), zap.Error(err))
		}
	}
}

func pixelValues(pixel model.TrackingPixel, intent model.NotificationIntent) map[string]string {
	values := map[string]string{
		"orderId":      intent.OrderID,
		"orderValue":   strconv.FormatFloat(intent.OrderValue, 'f', 2, 64),
		"currency":     intent.Currency,
		"userId":       intent.UserID,
		"clickId":      intent.ClickID,
		"conversionId": intent.ConversionID,
		"commission":   strconv.FormatFloat(intent.Commission, 'f', 2, 64),
		"storeId":      intent.StoreID,
	}
	for k, v := range pixel.Parameters {
		values[k] = v
	}
	for k, v := range intent.CustomParams {
		values[k] = v
	}
	return values
}

// RenderPixelURL substitutes {name} placeholders with query-escaped values.
// Unknown placeholders are left untouched.
func RenderPixelURL(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (n *Notifier) deliverWebhook(ctx context.Context, d delivery, deliveryID string) {
	timeout := n.cfg.WebhookTimeout
	if d.sub.TimeoutSeconds > 0 {
		timeout = time.Duration(d.sub.TimeoutSeconds) * time.Second
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   userAgent,
		eventHeader:    d.event,
		deliveryHeader: deliveryID,
	}
	for k, v := range d.sub.Headers {
		headers[k] = v
	}
	if d.sub.Secret != "" {
		sig, err := util.NewPayloadSigner([]byte(d.sub.Secret), 0).Sign(d.body)
		if err == nil {
			headers[util.SignatureHeader] = sig
		}
	}

	var (
		attempts int
		lastErr  error
	)
	r := retrier.New(
		retrier.ExponentialBackoff(n.cfg.MaxAttempts-1, n.cfg.InitialBackoff),
		retrier.BlacklistClassifier{errPermanent},
	)
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		lastErr = n.send(attemptCtx, d.sub.HTTPMethod(), d.sub.URL, d.body, headers)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("webhook delivery attempt failed",
			zap.String("subscription_id", d.sub.ID),
			zap.String("url", d.sub.URL),
			zap.String("event", d.event),
			zap.Int("attempt", attempts),
			zap.Error(lastErr),
		)
		if errors.Is(lastErr, errPermanent) {
			return errPermanent
		}
		return lastErr
	})

	var failure error
	if err != nil {
		failure = lastErr
		if failure == nil {
			failure = err
		}
	}

	n.observe("webhook", failure == nil)
	if d.sub.ID != "" {
		if recErr := n.webhooks.RecordDelivery(context.WithoutCancel(ctx), d.sub.ID, failure, n.nowFn()); recErr != nil {
			n.logger.Warn("failed to record webhook stats", zap.String("subscription_id", d.sub.ID), zap.Error(recErr))
		}
	}
	if failure != nil {
		n.deadLetter(ctx, d, attempts, failure)
	}
}

func (n *Notifier) deadLetter(ctx context.Context, d delivery, attempts int, cause error) {
	letter := &model.WebhookDeadLetter{
		ID:             uuid.NewString(),
		SubscriptionID: d.sub.ID,
		URL:            d.sub.URL,
		Event:          d.event,
		Payload:        json.RawMessage(d.body),
		Attempts:       attempts,
		LastError:      cause.Error(),
	}
	n.logger.Error("webhook delivery dead-lettered",
		zap.String("subscription_id", d.sub.ID),
		zap.String("url", d.sub.URL),
		zap.String("event", d.event),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	if err := n.deadLetters.Create(context.WithoutCancel(ctx), letter); err != nil {
		n.logger.Error("failed to store dead letter", zap.String("url", d.sub.URL), zap.Error(err))
	}
}

func (n *Notifier) send(ctx context.Context, method, target string, body []byte, headers map[string]string) error {
	var reader io.Reader
	if len(body) > 0 && method != http.MethodGet {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrained))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

func (n *Notifier) observe(kind string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	appmetrics.NotificationDeliveries.WithLabelValues(kind, result).Inc()
}
