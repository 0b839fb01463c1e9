package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/stretchr/testify/assert"
)

type mockRegistry struct {
	createRuleFn func(ctx context.Context, input service.CreateRuleInput) (*model.ConversionRule, error)
	listRulesFn  func(ctx context.Context, limit, offset int) ([]model.ConversionRule, error)

	webhookCreates int
}

func (m *mockRegistry) CreateRule(ctx context.Context, input service.CreateRuleInput) (*model.ConversionRule, error) {
	return m.createRuleFn(ctx, input)
}

func (m *mockRegistry) ListRules(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
	return m.listRulesFn(ctx, limit, offset)
}

func (m *mockRegistry) CreatePixel(ctx context.Context, input service.CreatePixelInput) (*model.TrackingPixel, error) {
	return &model.TrackingPixel{ID: "px-1", StoreID: input.StoreID, URLTemplate: input.URLTemplate}, nil
}

func (m *mockRegistry) ListPixels(ctx context.Context, storeID string) ([]model.TrackingPixel, error) {
	return nil, nil
}

func (m *mockRegistry) CreateWebhookSubscription(ctx context.Context, input service.CreateWebhookInput) (*model.WebhookSubscription, error) {
	m.webhookCreates++
	return &model.WebhookSubscription{ID: "sub-1", URL: input.URL, Events: input.Events}, nil
}

func (m *mockRegistry) ListWebhookSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error) {
	return nil, errors.New("db down")
}

func TestAdminHandler_CreateRule(t *testing.T) {
	var got service.CreateRuleInput
	registry := &mockRegistry{
		createRuleFn: func(ctx context.Context, input service.CreateRuleInput) (*model.ConversionRule, error) {
			got = input
			return &model.ConversionRule{ID: "rule-1", Name: input.Name}, nil
		},
	}
	app := fiber.New()
	NewAdminHandler(AdminDeps{Registry: registry}).Register(app)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/rules", map[string]any{
		"name":     "big orders",
		"priority": 5,
		"conditions": []map[string]any{
			{"field": "orderValue", "operator": "greater_than", "value": 500},
		},
		"actions": []map[string]any{
			{"type": "add_bonus", "parameters": map[string]any{"amount": 25}},
		},
	}, nil)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, 5, got.Priority)
	assert.Len(t, got.Conditions, 1)
	assert.Equal(t, model.ActionAddBonus, got.Actions[0].Type)
}

func TestAdminHandler_CreateRule_Rejected(t *testing.T) {
	registry := &mockRegistry{
		createRuleFn: func(ctx context.Context, input service.CreateRuleInput) (*model.ConversionRule, error) {
			return nil, service.ErrInvalidInput
		},
	}
	app := fiber.New()
	NewAdminHandler(AdminDeps{Registry: registry}).Register(app)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/rules", map[string]any{"name": "no actions"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/rules", map[string]any{
		"name":    "bad",
		"actions": []map[string]any{{"type": "explode"}},
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdminHandler_ListRules_ClampsPaging(t *testing.T) {
	var gotLimit, gotOffset int
	registry := &mockRegistry{
		listRulesFn: func(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
			gotLimit, gotOffset = limit, offset
			return []model.ConversionRule{{ID: "r1"}}, nil
		},
	}
	app := fiber.New()
	NewAdminHandler(AdminDeps{Registry: registry}).Register(app)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/rules?limit=500&offset=3", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 3, gotOffset)
	assert.Contains(t, string(body), `"count":1`)
}

func TestAdminHandler_Webhooks(t *testing.T) {
	registry := &mockRegistry{}
	app := fiber.New()
	NewAdminHandler(AdminDeps{Registry: registry}).Register(app)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/webhook-subscriptions", map[string]any{
		"url":    "https://partner.example.com/hook",
		"events": []string{"conversion_created"},
	}, nil)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/webhook-subscriptions", map[string]any{"url": "not a url"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, registry.webhookCreates)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/webhook-subscriptions", nil, nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "failed to list webhook subscriptions")
}

type mockAnalytics struct {
	from, to time.Time
}

func (m *mockAnalytics) ClickSummary(ctx context.Context, from, to time.Time) (*repository.ClickSummary, error) {
	m.from, m.to = from, to
	return &repository.ClickSummary{TotalClicks: 12}, nil
}

func (m *mockAnalytics) ConversionSummary(ctx context.Context, from, to time.Time) (*repository.ConversionSummary, error) {
	return nil, service.ErrInvalidInput
}

func (m *mockAnalytics) TopSources(ctx context.Context, limit int) ([]repository.SourcePerformance, error) {
	return []repository.SourcePerformance{}, nil
}

func TestAnalyticsHandler(t *testing.T) {
	analytics := &mockAnalytics{}
	app := fiber.New()
	NewAnalyticsHandler(AnalyticsDeps{Analytics: analytics}).Register(app)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/analytics/clicks?from=2024-05-01T00:00:00Z", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"totalClicks":12`)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), analytics.from)
	assert.True(t, analytics.to.IsZero())

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/analytics/clicks?to=yesterday", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/analytics/conversions", nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/analytics/sources/top?limit=5", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
