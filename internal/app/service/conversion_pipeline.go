package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/rules"
	"github.com/sifan077/PowerTrack/internal/app/session"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	appmetrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ConversionService ingests merchant conversion webhooks and drives the
// conversion lifecycle afterwards.
type ConversionService interface {
	HandleConversionWebhook(ctx context.Context, input ConversionWebhookInput) (*ConversionResult, error)
	GetConversion(ctx context.Context, id string) (*model.ConversionEvent, error)
	ConfirmConversion(ctx context.Context, id string) (*model.ConversionEvent, error)
	CancelConversion(ctx context.Context, id, reason string) (*model.ConversionEvent, error)
	// RefundConversion refunds amount of the order; zero refunds it in full.
	RefundConversion(ctx context.Context, id string, amount float64, reason string) (*model.ConversionEvent, error)
}

// ConversionWebhookInput is the merchant-reported purchase.
type ConversionWebhookInput struct {
	OrderID        string
	ClickID        string
	UserID         string
	StoreID        string
	StoreName      string
	OrderValue     float64
	Currency       string
	Commission     float64
	CommissionRate float64
	Products       []model.Product
	CustomerInfo   model.CustomerInfo
	Metadata       map[string]any
}

// ConversionResult describes how a webhook was handled.
type ConversionResult struct {
	Conversion  *model.ConversionEvent
	Duplicate   bool
	Fraud       *fraud.Assessment
	Attribution *model.ConversionAttribution
}

// RuleApplier folds matching rules into a commission outcome.
type RuleApplier interface {
	Apply(ctx context.Context, p rules.Payload, at time.Time) (rules.Outcome, error)
}

// RuleUsageRecorder counts rule firings.
type RuleUsageRecorder interface {
	IncrementUsage(ctx context.Context, ruleIDs []string, at time.Time) error
}

// FraudAssessor scores a conversion against its click.
type FraudAssessor interface {
	Assess(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error)
}

// Attributor distributes conversion credit across touchpoints.
type Attributor interface {
	Attribute(ctx context.Context, conv *model.ConversionEvent) (*model.ConversionAttribution, error)
}

// NotificationQueue accepts outbound notification work.
type NotificationQueue interface {
	Publish(ctx context.Context, intent model.NotificationIntent) error
}

// ConversionDeps groups the collaborators of the conversion pipeline.
// Settlement and OrderFilter are optional.
type ConversionDeps struct {
	Clicks         repository.ClickEventRepository
	Conversions    repository.ConversionRepository
	Frauds         repository.FraudRepository
	Sources        repository.TrafficSourceRepository
	Sessions       session.Store
	SessionArchive SessionArchive
	Rules          RuleApplier
	RuleUsage      RuleUsageRecorder
	Fraud          FraudAssessor
	Attribution    Attributor
	Notifications  NotificationQueue
	Settlement     SettlementFeed
	OrderFilter    *OrderFilter
	Logger         *zap.Logger
}

type conversionService struct {
	ConversionDeps
	logger *zap.Logger
	nowFn  func() time.Time
	newID  func() string
}

// NewConversionService wires the conversion pipeline.
func NewConversionService(deps ConversionDeps) ConversionService {
	return &conversionService{
		ConversionDeps: deps,
		logger:         logger.OrNop(deps.Logger).Named("conversion_pipeline"),
		nowFn:          func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

func (s *conversionService) HandleConversionWebhook(ctx context.Context, input ConversionWebhookInput) (*ConversionResult, error) {
	start := time.Now()
	defer func() { appmetrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	if err := validateConversion(input); err != nil {
		appmetrics.ConversionsProcessed.WithLabelValues("rejected").Inc()
		return nil, err
	}

	click, err := s.Clicks.GetByID(ctx, input.ClickID)
	if err != nil {
		if errors.Is(err, repository.ErrClickNotFound) {
			appmetrics.ConversionsProcessed.WithLabelValues("missing_click").Inc()
			s.logger.Warn("conversion rejected, click not found",
				logger.OrderID(input.OrderID),
				logger.ClickID(input.ClickID),
			)
		}
		return nil, fmt.Errorf("lookup click %s: %w", input.ClickID, err)
	}

	existing, err := s.findExisting(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.duplicate(existing), nil
	}

	now := s.nowFn()
	conv := s.buildConversion(input, click, now)

	outcome, err := s.Rules.Apply(ctx, rules.PayloadFrom(conv), now)
	if err != nil {
		return nil, fmt.Errorf("apply rules: %w", err)
	}
	conv.Commission = outcome.Commission
	conv.CommissionRate = outcome.CommissionRate
	conv.AppliedRules = outcome.MatchedRules
	conv.UserTags = outcome.UserTags

	if err := s.Conversions.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			// A concurrent delivery of the same order won the insert.
			existing, getErr := s.Conversions.GetByOrderID(ctx, conv.OrderID)
			if getErr != nil {
				return nil, fmt.Errorf("load existing order %s: %w", conv.OrderID, getErr)
			}
			s.rememberOrder(conv.OrderID)
			return s.duplicate(existing), nil
		}
		s.logger.Error("failed to persist conversion", logger.OrderID(conv.OrderID), zap.Error(err))
		return nil, fmt.Errorf("save conversion: %w", err)
	}
	s.rememberOrder(conv.OrderID)

	result := &ConversionResult{Conversion: conv}
	result.Fraud = s.screen(ctx, conv, click, now)

	touchSession(ctx, s.Sessions, s.SessionArchive, s.logger, conv.SessionID, model.SessionDelta{
		Conversions: 1,
		Revenue:     conv.OrderValue,
		Commission:  conv.Commission,
	}, now)
	s.applySourceDelta(ctx, conv, repository.ConversionDelta{
		Conversions: 1,
		Revenue:     conv.OrderValue,
		Commission:  conv.Commission,
	}, now)

	attribution, err := s.Attribution.Attribute(ctx, conv)
	if err != nil {
		s.logger.Error("attribution failed", logger.ConversionID(conv.ID), zap.Error(err))
	}
	result.Attribution = attribution

	created := s.intent(model.EventConversionCreated, conv, now)
	created.RuleWebhooks = outcome.WebhookURLs
	created.Notifications = outcome.Notifications
	s.notify(ctx, created)
	if result.Fraud != nil && result.Fraud.IsHardFraud() {
		s.notify(ctx, s.intent(model.EventFraudDetected, conv, now))
	}
	s.settle(ctx, model.EventConversionCreated, conv, now)

	if len(outcome.MatchedRules) > 0 {
		if err := s.RuleUsage.IncrementUsage(ctx, outcome.MatchedRules, now); err != nil {
			s.logger.Warn("failed to record rule usage", zap.Strings("rules", outcome.MatchedRules), zap.Error(err))
		}
	}

	appmetrics.ConversionsProcessed.WithLabelValues(string(conv.ProcessingStatus)).Inc()
	s.logger.Info("conversion recorded",
		logger.ConversionID(conv.ID),
		logger.OrderID(conv.OrderID),
		logger.ClickID(conv.ClickID),
		zap.Float64("commission", conv.Commission),
		zap.String("status", string(conv.ProcessingStatus)),
	)
	return result, nil
}

func validateConversion(input ConversionWebhookInput) error {
	switch {
	case strings.TrimSpace(input.OrderID) == "":
		return fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	case strings.TrimSpace(input.ClickID) == "":
		return fmt.Errorf("%w: clickId is required", ErrInvalidInput)
	case input.OrderValue < 0 || math.IsNaN(input.OrderValue) || math.IsInf(input.OrderValue, 0):
		return fmt.Errorf("%w: orderValue must be a non-negative number", ErrInvalidInput)
	case input.Commission < 0 || input.CommissionRate < 0:
		return fmt.Errorf("%w: commission must not be negative", ErrInvalidInput)
	case strings.TrimSpace(input.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	return nil
}

// findExisting consults the order filter before touching the database.
func (s *conversionService) findExisting(ctx context.Context, orderID string) (*model.ConversionEvent, error) {
	if s.OrderFilter != nil && !s.OrderFilter.MayContain(orderID) {
		return nil, nil
	}
	existing, err := s.Conversions.GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrConversionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}
	return existing, nil
}

func (s *conversionService) rememberOrder(orderID string) {
	if s.OrderFilter != nil {
		s.OrderFilter.Add(orderID)
	}
}

func (s *conversionService) duplicate(existing *model.ConversionEvent) *ConversionResult {
	appmetrics.ConversionsProcessed.WithLabelValues("duplicate").Inc()
	s.logger.Warn("duplicate conversion ignored",
		logger.OrderID(existing.OrderID),
		logger.ConversionID(existing.ID),
	)
	return &ConversionResult{Conversion: existing, Duplicate: true}
}

func (s *conversionService) buildConversion(input ConversionWebhookInput, click *model.ClickEvent, now time.Time) *model.ConversionEvent {
	userID := input.UserID
	if userID == "" {
		userID = click.UserID
	}
	storeID := input.StoreID
	if storeID == "" {
		storeID = click.StoreID
	}
	storeName := input.StoreName
	if storeName == "" {
		storeName = click.StoreName
	}

	commission := input.Commission
	if commission <= 0 {
		commission = round2(input.OrderValue * input.CommissionRate / 100)
	}

	return &model.ConversionEvent{
		ID:               s.newID(),
		ClickID:          click.ClickID,
		OrderID:          input.OrderID,
		UserID:           userID,
		StoreID:          storeID,
		StoreName:        storeName,
		SessionID:        click.SessionID,
		SourceID:         click.SourceID,
		OrderValue:       input.OrderValue,
		Currency:         strings.ToUpper(input.Currency),
		Commission:       commission,
		CommissionRate:   input.CommissionRate,
		Products:         input.Products,
		CustomerInfo:     input.CustomerInfo,
		Metadata:         input.Metadata,
		ProcessingStatus: model.StatusPending,
		ConvertedAt:      now,
	}
}

// screen runs fraud detection. Detection failures are logged; the conversion
// is already durable and stays pending.
func (s *conversionService) screen(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent, now time.Time) *fraud.Assessment {
	assessment, err := s.Fraud.Assess(ctx, conv, click)
	if err != nil {
		appmetrics.FraudAssessments.WithLabelValues("error").Inc()
		s.logger.Error("fraud detection failed", logger.ConversionID(conv.ID), zap.Error(err))
		return nil
	}
	appmetrics.FraudAssessments.WithLabelValues(assessment.Level).Inc()
	if len(assessment.Indicators) == 0 {
		return &assessment
	}

	status := model.FraudCleared
	if assessment.IsFraud() {
		status = model.FraudPending
	}
	record := &model.ConversionFraud{
		ID:              s.newID(),
		ConversionID:    conv.ID,
		OrderID:         conv.OrderID,
		UserID:          conv.UserID,
		RiskScore:       assessment.RiskScore,
		FraudIndicators: assessment.Indicators,
		Status:          status,
	}
	if err := s.Frauds.Create(ctx, record); err != nil {
		s.logger.Error("failed to persist fraud record", logger.ConversionID(conv.ID), zap.Error(err))
	}

	fields := []zap.Field{
		logger.ConversionID(conv.ID),
		logger.OrderID(conv.OrderID),
		zap.Int("risk_score", assessment.RiskScore),
		zap.Any("indicators", assessment.Indicators),
	}
	switch {
	case assessment.IsHardFraud():
		reason := fmt.Sprintf("fraud score %d", assessment.RiskScore)
		if err := s.Conversions.UpdateStatus(ctx, conv.ID, model.StatusFraudDetected, reason); err != nil {
			s.logger.Error("failed to flag conversion as fraud", append(fields, zap.Error(err))...)
			break
		}
		conv.ProcessingStatus = model.StatusFraudDetected
		conv.StatusReason = reason
		s.logger.Warn("hard fraud detected", fields...)
	case assessment.IsFraud():
		s.logger.Warn("soft fraud flagged for review", fields...)
	default:
		s.logger.Info("fraud indicators below threshold", fields...)
	}
	return &assessment
}

func (s *conversionService) GetConversion(ctx context.Context, id string) (*model.ConversionEvent, error) {
	return s.Conversions.GetByID(ctx, id)
}

func (s *conversionService) ConfirmConversion(ctx context.Context, id string) (*model.ConversionEvent, error) {
	conv, err := s.Conversions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := conv.ProcessingStatus
	if err := checkTransition(from, model.StatusConfirmed, confirmableFrom...); err != nil {
		return nil, err
	}

	now := s.nowFn()
	conv.ProcessingStatus = model.StatusConfirmed
	conv.StatusReason = ""
	conv.ConfirmedAt = &now
	if err := s.commitTransition(ctx, conv, from, confirmableFrom); err != nil {
		return nil, fmt.Errorf("confirm conversion: %w", err)
	}

	if err := s.Frauds.UpdateStatus(ctx, conv.ID, model.FraudCleared, now); err != nil && !errors.Is(err, repository.ErrFraudNotFound) {
		s.logger.Warn("failed to clear fraud record", logger.ConversionID(conv.ID), zap.Error(err))
	}

	s.afterTransition(ctx, model.EventConversionConfirmed, conv, now)
	return conv, nil
}

func (s *conversionService) CancelConversion(ctx context.Context, id, reason string) (*model.ConversionEvent, error) {
	conv, err := s.Conversions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := conv.ProcessingStatus
	if err := checkTransition(from, model.StatusCancelled, cancellableFrom...); err != nil {
		return nil, err
	}

	now := s.nowFn()
	conv.ProcessingStatus = model.StatusCancelled
	conv.StatusReason = reason
	conv.CancelledAt = &now
	if err := s.commitTransition(ctx, conv, from, cancellableFrom); err != nil {
		return nil, fmt.Errorf("cancel conversion: %w", err)
	}

	s.applySourceDelta(ctx, conv, repository.ConversionDelta{
		Conversions: -1,
		Revenue:     -conv.OrderValue,
		Commission:  -conv.Commission,
	}, now)
	s.afterTransition(ctx, model.EventConversionCancelled, conv, now)
	return conv, nil
}

func (s *conversionService) RefundConversion(ctx context.Context, id string, amount float64, reason string) (*model.ConversionEvent, error) {
	if amount < 0 || math.IsNaN(amount) {
		return nil, fmt.Errorf("%w: refund amount must not be negative", ErrInvalidInput)
	}
	conv, err := s.Conversions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := conv.ProcessingStatus
	if err := checkTransition(from, model.StatusRefunded, refundableFrom...); err != nil {
		return nil, err
	}
	if amount == 0 {
		amount = conv.OrderValue
	}
	if amount > conv.OrderValue {
		return nil, fmt.Errorf("%w: refund %.2f exceeds order value %.2f", ErrInvalidInput, amount, conv.OrderValue)
	}

	previous := conv.Commission
	full := amount >= conv.OrderValue
	if full || conv.OrderValue == 0 {
		conv.Commission = 0
	} else {
		conv.Commission = round2(conv.Commission * (conv.OrderValue - amount) / conv.OrderValue)
	}

	now := s.nowFn()
	conv.ProcessingStatus = model.StatusRefunded
	conv.StatusReason = reason
	conv.RefundedAmount = amount
	conv.RefundedAt = &now
	if err := s.commitTransition(ctx, conv, from, refundableFrom); err != nil {
		return nil, fmt.Errorf("refund conversion: %w", err)
	}

	delta := repository.ConversionDelta{
		Revenue:    -amount,
		Commission: -round2(previous - conv.Commission),
	}
	if full {
		delta.Conversions = -1
	}
	s.applySourceDelta(ctx, conv, delta, now)
	s.afterTransition(ctx, model.EventConversionRefunded, conv, now)
	return conv, nil
}

var (
	confirmableFrom = []model.ProcessingStatus{model.StatusPending, model.StatusFraudDetected}
	cancellableFrom = []model.ProcessingStatus{model.StatusPending, model.StatusConfirmed, model.StatusFraudDetected}
	refundableFrom  = []model.ProcessingStatus{model.StatusConfirmed, model.StatusPending}
)

// commitTransition persists conv only if no concurrent transition moved it
// out of allowed since it was read.
func (s *conversionService) commitTransition(ctx context.Context, conv *model.ConversionEvent, from model.ProcessingStatus, allowed []model.ProcessingStatus) error {
	err := s.Conversions.Transition(ctx, conv, allowed...)
	if errors.Is(err, repository.ErrStatusChanged) {
		return fmt.Errorf("%w: %s -> %s: status changed concurrently", ErrInvalidTransition, from, conv.ProcessingStatus)
	}
	return err
}

func checkTransition(from, to model.ProcessingStatus, allowed ...model.ProcessingStatus) error {
	for _, a := range allowed {
		if from == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (s *conversionService) afterTransition(ctx context.Context, event string, conv *model.ConversionEvent, now time.Time) {
	appmetrics.ConversionTransitions.WithLabelValues(string(conv.ProcessingStatus)).Inc()
	s.logger.Info("conversion status changed",
		logger.ConversionID(conv.ID),
		zap.String("status", string(conv.ProcessingStatus)),
		zap.Float64("commission", conv.Commission),
	)
	s.notify(ctx, s.intent(event, conv, now))
	s.settle(ctx, event, conv, now)
}

func (s *conversionService) applySourceDelta(ctx context.Context, conv *model.ConversionEvent, delta repository.ConversionDelta, now time.Time) {
	if conv.SourceID == "" {
		return
	}
	if err := s.Sources.ApplyConversion(ctx, conv.SourceID, delta, now); err != nil {
		s.logger.Error("failed to update traffic source",
			zap.String("source_id", conv.SourceID),
			logger.ConversionID(conv.ID),
			zap.Error(err),
		)
	}
}

func (s *conversionService) intent(event string, conv *model.ConversionEvent, now time.Time) model.NotificationIntent {
	return model.NewNotificationIntent(s.newID(), event, conv, now)
}

// notify enqueues outbound work; queue failures never fail the caller.
func (s *conversionService) notify(ctx context.Context, intent model.NotificationIntent) {
	if s.Notifications == nil {
		return
	}
	if err := s.Notifications.Publish(ctx, intent); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("event", intent.Event),
			logger.ConversionID(intent.ConversionID),
			zap.Error(err),
		)
	}
}

func (s *conversionService) settle(ctx context.Context, event string, conv *model.ConversionEvent, now time.Time) {
	if s.Settlement == nil {
		return
	}
	if err := s.Settlement.Send(ctx, conv.OrderID, newSettlementEvent(event, conv, now)); err != nil {
		s.logger.Warn("failed to publish settlement event",
			zap.String("event", event),
			logger.OrderID(conv.OrderID),
			zap.Error(err),
		)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
