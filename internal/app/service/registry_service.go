package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/rules"
)

// RegistryService registers the rules, pixels and webhook subscriptions the
// conversion pipeline works with.
type RegistryService interface {
	CreateRule(ctx context.Context, input CreateRuleInput) (*model.ConversionRule, error)
	ListRules(ctx context.Context, limit, offset int) ([]model.ConversionRule, error)
	CreatePixel(ctx context.Context, input CreatePixelInput) (*model.TrackingPixel, error)
	ListPixels(ctx context.Context, storeID string) ([]model.TrackingPixel, error)
	CreateWebhookSubscription(ctx context.Context, input CreateWebhookInput) (*model.WebhookSubscription, error)
	ListWebhookSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error)
}

type registryService struct {
	rules    repository.RuleRepository
	pixels   repository.PixelRepository
	webhooks repository.WebhookSubscriptionRepository
	newID    func() string
}

// NewRegistryService returns a service implementation backed by the given repositories.
func NewRegistryService(rules repository.RuleRepository, pixels repository.PixelRepository, webhooks repository.WebhookSubscriptionRepository) RegistryService {
	return &registryService{
		rules:    rules,
		pixels:   pixels,
		webhooks: webhooks,
		newID:    uuid.NewString,
	}
}

// CreateRuleInput captures data required to create a conversion rule.
type CreateRuleInput struct {
	Name        string
	Description string
	StoreID     string
	Category    string
	Priority    int
	Inactive    bool
	Conditions  []model.RuleCondition
	Actions     []model.RuleAction
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// CreatePixelInput captures data required to register a tracking pixel.
type CreatePixelInput struct {
	StoreID     string
	Name        string
	URLTemplate string
	Method      string
	Parameters  map[string]string
}

// CreateWebhookInput captures data required to subscribe a partner endpoint.
type CreateWebhookInput struct {
	Name           string
	URL            string
	Events         []string
	Method         string
	Headers        map[string]string
	TimeoutSeconds int
	Secret         string
}

var knownOperators = []model.Operator{
	model.OpEquals, model.OpNotEquals, model.OpGreaterThan, model.OpLessThan,
	model.OpContains, model.OpIn, model.OpNotIn,
}

var knownEvents = []string{
	model.EventConversionCreated, model.EventConversionConfirmed, model.EventConversionCancelled,
	model.EventConversionRefunded, model.EventFraudDetected, model.EventUserNotification, "*",
}

func (s *registryService) CreateRule(ctx context.Context, input CreateRuleInput) (*model.ConversionRule, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(input.Actions) == 0 {
		return nil, fmt.Errorf("%w: at least one action is required", ErrInvalidInput)
	}
	for i, c := range input.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return nil, fmt.Errorf("%w: condition %d has no field", ErrInvalidInput, i)
		}
		if !slices.Contains(knownOperators, c.Operator) {
			return nil, fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidInput, i, c.Operator)
		}
		switch strings.ToUpper(string(c.LogicalOperator)) {
		case "", string(model.LogicalAnd), string(model.LogicalOr):
			input.Conditions[i].LogicalOperator = model.LogicalOperator(strings.ToUpper(string(c.LogicalOperator)))
		default:
			return nil, fmt.Errorf("%w: condition %d has unknown logical operator %q", ErrInvalidInput, i, c.LogicalOperator)
		}
	}
	for _, a := range input.Actions {
		if _, err := rules.DecodeAction(a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if input.ValidFrom != nil && input.ValidUntil != nil && input.ValidUntil.Before(*input.ValidFrom) {
		return nil, fmt.Errorf("%w: validUntil precedes validFrom", ErrInvalidInput)
	}

	rule := &model.ConversionRule{
		ID:          s.newID(),
		Name:        input.Name,
		Description: input.Description,
		StoreID:     input.StoreID,
		Category:    input.Category,
		Priority:    input.Priority,
		IsActive:    !input.Inactive,
		Conditions:  input.Conditions,
		Actions:     input.Actions,
		ValidFrom:   input.ValidFrom,
		ValidUntil:  input.ValidUntil,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (s *registryService) ListRules(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
	list, err := s.rules.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return list, nil
}

func (s *registryService) CreatePixel(ctx context.Context, input CreatePixelInput) (*model.TrackingPixel, error) {
	if strings.TrimSpace(input.StoreID) == "" {
		return nil, fmt.Errorf("%w: storeId is required", ErrInvalidInput)
	}
	if err := validateEndpoint(RenderPixelURL(input.URLTemplate, nil)); err != nil {
		return nil, err
	}
	method, err := normaliseMethod(input.Method, http.MethodGet)
	if err != nil {
		return nil, err
	}

	pixel := &model.TrackingPixel{
		ID:          s.newID(),
		StoreID:     input.StoreID,
		Name:        input.Name,
		URLTemplate: input.URLTemplate,
		Method:      method,
		Parameters:  input.Parameters,
		IsActive:    true,
	}
	if err := s.pixels.Create(ctx, pixel); err != nil {
		return nil, fmt.Errorf("create pixel: %w", err)
	}
	return pixel, nil
}

func (s *registryService) ListPixels(ctx context.Context, storeID string) ([]model.TrackingPixel, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, fmt.Errorf("%w: storeId is required", ErrInvalidInput)
	}
	pixels, err := s.pixels.ListActiveByStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	return pixels, nil
}

func (s *registryService) CreateWebhookSubscription(ctx context.Context, input CreateWebhookInput) (*model.WebhookSubscription, error) {
	if err := validateEndpoint(input.URL); err != nil {
		return nil, err
	}
	if len(input.Events) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", ErrInvalidInput)
	}
	for _, e := range input.Events {
		if !slices.Contains(knownEvents, e) {
			return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidInput, e)
		}
	}
	method, err := normaliseMethod(input.Method, http.MethodPost)
	if err != nil {
		return nil, err
	}
	if input.TimeoutSeconds < 0 || input.TimeoutSeconds > 60 {
		return nil, fmt.Errorf("%w: timeoutSeconds must be between 0 and 60", ErrInvalidInput)
	}

	sub := &model.WebhookSubscription{
		ID:             s.newID(),
		Name:           input.Name,
		URL:            input.URL,
		Events:         input.Events,
		Method:         method,
		Headers:        input.Headers,
		TimeoutSeconds: input.TimeoutSeconds,
		Secret:         input.Secret,
		IsActive:       true,
	}
	if err := s.webhooks.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create webhook subscription: %w", err)
	}
	return sub, nil
}

func (s *registryService) ListWebhookSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error) {
	subs, err := s.webhooks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	return subs, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint url %q", ErrInvalidInput, raw)
	}
	return nil
}

func normaliseMethod(method, fallback string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "":
		return fallback, nil
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
		return method, nil
	}
	return "", fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, method)
}
