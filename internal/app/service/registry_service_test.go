package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRuleRepository struct {
	createFn func(ctx context.Context, rule *model.ConversionRule) error
	listFn   func(ctx context.Context, limit, offset int) ([]model.ConversionRule, error)
}

func (m *mockRuleRepository) Create(ctx context.Context, rule *model.ConversionRule) error {
	if m.createFn != nil {
		return m.createFn(ctx, rule)
	}
	return nil
}

func (m *mockRuleRepository) List(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockRuleRepository) ListActive(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error) {
	return nil, nil
}

func (m *mockRuleRepository) IncrementUsage(ctx context.Context, ruleIDs []string, at time.Time) error {
	return nil
}

func newTestRegistry(rules *mockRuleRepository) (*registryService, *mockPixelRepository, *mockWebhookRepository) {
	pixels := &mockPixelRepository{}
	webhooks := &mockWebhookRepository{}
	svc := NewRegistryService(rules, pixels, webhooks).(*registryService)
	svc.newID = func() string { return "fixed-id" }
	return svc, pixels, webhooks
}

func rateAction(rate float64) model.RuleAction {
	params, _ := json.Marshal(map[string]float64{"rate": rate})
	return model.RuleAction{Type: model.ActionSetCommissionRate, Parameters: params}
}

func TestRegistryService_CreateRule(t *testing.T) {
	var saved *model.ConversionRule
	svc, _, _ := newTestRegistry(&mockRuleRepository{
		createFn: func(ctx context.Context, rule *model.ConversionRule) error {
			saved = rule
			return nil
		},
	})

	rule, err := svc.CreateRule(context.Background(), CreateRuleInput{
		Name:     "electronics boost",
		StoreID:  "store-1",
		Priority: 10,
		Conditions: []model.RuleCondition{
			{Field: model.FieldOrderValue, Operator: model.OpGreaterThan, Value: 100, LogicalOperator: "and"},
			{Field: model.FieldProductCategory, Operator: model.OpIn, Value: []any{"electronics"}},
		},
		Actions: []model.RuleAction{rateAction(12)},
	})
	require.NoError(t, err)
	require.Same(t, saved, rule)
	assert.Equal(t, "fixed-id", rule.ID)
	assert.True(t, rule.IsActive)
	assert.Equal(t, model.LogicalAnd, rule.Conditions[0].LogicalOperator)
}

func TestRegistryService_CreateRule_Validation(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	tests := []struct {
		name  string
		input CreateRuleInput
	}{
		{"missing name", CreateRuleInput{Actions: []model.RuleAction{rateAction(5)}}},
		{"no actions", CreateRuleInput{Name: "r"}},
		{"unknown operator", CreateRuleInput{
			Name:       "r",
			Conditions: []model.RuleCondition{{Field: "orderValue", Operator: "between"}},
			Actions:    []model.RuleAction{rateAction(5)},
		}},
		{"unknown logical operator", CreateRuleInput{
			Name:       "r",
			Conditions: []model.RuleCondition{{Field: "orderValue", Operator: model.OpEquals, LogicalOperator: "XOR"}},
			Actions:    []model.RuleAction{rateAction(5)},
		}},
		{"bad action", CreateRuleInput{
			Name:    "r",
			Actions: []model.RuleAction{{Type: "explode"}},
		}},
		{"inverted validity", CreateRuleInput{
			Name:       "r",
			Actions:    []model.RuleAction{rateAction(5)},
			ValidFrom:  &from,
			ValidUntil: &until,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestRegistry(&mockRuleRepository{
				createFn: func(ctx context.Context, rule *model.ConversionRule) error {
					t.Fatal("invalid rule must not be stored")
					return nil
				},
			})
			_, err := svc.CreateRule(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegistryService_ListRules_WrapsError(t *testing.T) {
	svc, _, _ := newTestRegistry(&mockRuleRepository{
		listFn: func(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
			return nil, errors.New("db down")
		},
	})
	_, err := svc.ListRules(context.Background(), 10, 0)
	assert.EqualError(t, err, "list rules: db down")
}

func TestRegistryService_CreatePixel(t *testing.T) {
	svc, pixels, _ := newTestRegistry(&mockRuleRepository{})

	pixel, err := svc.CreatePixel(context.Background(), CreatePixelInput{
		StoreID:     "store-1",
		URLTemplate: "https://px.example.com/c?o={orderId}",
	})
	require.NoError(t, err)
	assert.Equal(t, "GET", pixel.Method)
	assert.Len(t, pixels.pixels, 1)

	_, err = svc.CreatePixel(context.Background(), CreatePixelInput{StoreID: "store-1", URLTemplate: "px.example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreatePixel(context.Background(), CreatePixelInput{URLTemplate: "https://px.example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.CreatePixel(context.Background(), CreatePixelInput{StoreID: "s", URLTemplate: "https://px.example.com", Method: "DELETE"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegistryService_CreateWebhookSubscription(t *testing.T) {
	svc, _, webhooks := newTestRegistry(&mockRuleRepository{})

	sub, err := svc.CreateWebhookSubscription(context.Background(), CreateWebhookInput{
		URL:    "https://partner.example.com/hooks",
		Events: []string{model.EventConversionCreated, model.EventConversionRefunded},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", sub.Method)
	assert.True(t, sub.IsActive)
	assert.Len(t, webhooks.subs, 1)

	_, err = svc.CreateWebhookSubscription(context.Background(), CreateWebhookInput{
		URL:    "https://partner.example.com/hooks",
		Events: []string{"order_shipped"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateWebhookSubscription(context.Background(), CreateWebhookInput{URL: "https://partner.example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
