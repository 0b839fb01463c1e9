package rules

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

type mockRuleSource struct {
	listActiveFn func(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error)
}

func (m *mockRuleSource) ListActive(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, storeID, categories, at)
	}
	return nil, nil
}

func action(t *testing.T, typ model.ActionType, params map[string]any) model.RuleAction {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return model.RuleAction{Type: typ, Parameters: raw}
}

func staticRules(rules ...model.ConversionRule) *mockRuleSource {
	return &mockRuleSource{
		listActiveFn: func(context.Context, string, []string, time.Time) ([]model.ConversionRule, error) {
			return rules, nil
		},
	}
}

func TestEngine_Apply_SetCommissionRateOverridesBase(t *testing.T) {
	rule := model.ConversionRule{
		ID:         "r-rate",
		Conditions: []model.RuleCondition{cond(model.FieldOrderValue, model.OpGreaterThan, float64(500), "")},
		Actions:    []model.RuleAction{action(t, model.ActionSetCommissionRate, map[string]any{"rate": 8})},
	}
	engine := NewEngine(staticRules(rule), nil)

	out, err := engine.Apply(context.Background(), Payload{
		OrderValue:     1000,
		StoreID:        "amazon",
		Commission:     50,
		CommissionRate: 5,
	}, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, 80, out.Commission, 1e-9)
	assert.InDelta(t, 8, out.CommissionRate, 1e-9)
	assert.Equal(t, []string{"r-rate"}, out.MatchedRules)
}

func TestEngine_Apply_BonusStacksOnEarlierRate(t *testing.T) {
	rate := model.ConversionRule{
		ID:      "base",
		Actions: []model.RuleAction{action(t, model.ActionSetCommissionRate, map[string]any{"rate": 10})},
	}
	bonus := model.ConversionRule{
		ID:      "bonus",
		Actions: []model.RuleAction{action(t, model.ActionAddBonus, map[string]any{"amount": 25})},
	}
	engine := NewEngine(staticRules(rate, bonus), nil)

	out, err := engine.Apply(context.Background(), Payload{OrderValue: 400, Commission: 4}, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 65, out.Commission, 1e-9)
	assert.InDelta(t, 10, out.CommissionRate, 1e-9)
}

func TestEngine_Apply_LastWriterWins(t *testing.T) {
	first := model.ConversionRule{
		ID:      "first",
		Actions: []model.RuleAction{action(t, model.ActionSetCommissionRate, map[string]any{"rate": 12})},
	}
	second := model.ConversionRule{
		ID:      "second",
		Actions: []model.RuleAction{action(t, model.ActionSetCommissionRate, map[string]any{"rate": 3})},
	}
	engine := NewEngine(staticRules(first, second), nil)

	out, err := engine.Apply(context.Background(), Payload{OrderValue: 200}, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 6, out.Commission, 1e-9)
	assert.Equal(t, []string{"first", "second"}, out.MatchedRules)
}

func TestEngine_Apply_PassThroughActions(t *testing.T) {
	rule := model.ConversionRule{
		ID: "side-effects",
		Actions: []model.RuleAction{
			action(t, model.ActionTagUser, map[string]any{"tags": []string{"vip", "big-spender"}}),
			action(t, model.ActionTagUser, map[string]any{"tag": "vip"}),
			action(t, model.ActionTriggerWebhook, map[string]any{"url": "https://partner.example/hook"}),
			action(t, model.ActionSendNotification, map[string]any{"template": "thanks"}),
			{Type: "explode"},
		},
	}
	engine := NewEngine(staticRules(rule), nil)

	out, err := engine.Apply(context.Background(), Payload{OrderValue: 100, Commission: 5, CommissionRate: 5}, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 5, out.Commission, 1e-9)
	assert.Equal(t, []string{"vip", "big-spender"}, out.UserTags)
	assert.Equal(t, []string{"https://partner.example/hook"}, out.WebhookURLs)
	assert.Equal(t, []string{"thanks"}, out.Notifications)
}

func TestEngine_SelectApplicable_FiltersByConditions(t *testing.T) {
	var gotStore string
	var gotCategories []string
	source := &mockRuleSource{
		listActiveFn: func(_ context.Context, storeID string, categories []string, _ time.Time) ([]model.ConversionRule, error) {
			gotStore, gotCategories = storeID, categories
			return []model.ConversionRule{
				{ID: "match", Conditions: []model.RuleCondition{cond(model.FieldCurrency, model.OpEquals, "INR", "")}},
				{ID: "miss", Conditions: []model.RuleCondition{cond(model.FieldCurrency, model.OpEquals, "USD", "")}},
			}, nil
		},
	}
	engine := NewEngine(source, nil)

	matched, err := engine.SelectApplicable(context.Background(), "amazon", []string{"books"}, Payload{Currency: "INR"}, time.Now())
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "match", matched[0].ID)
	assert.Equal(t, "amazon", gotStore)
	assert.Equal(t, []string{"books"}, gotCategories)
}

func TestEngine_Apply_SourceError(t *testing.T) {
	source := &mockRuleSource{
		listActiveFn: func(context.Context, string, []string, time.Time) ([]model.ConversionRule, error) {
			return nil, errors.New("db down")
		},
	}
	_, err := NewEngine(source, nil).Apply(context.Background(), Payload{}, time.Now())
	assert.Error(t, err)
}

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		name    string
		action  model.RuleAction
		want    Action
		wantErr bool
	}{
		{"rate", model.RuleAction{Type: model.ActionSetCommissionRate, Parameters: json.RawMessage(`{"rate":7.5}`)}, SetCommissionRate{Rate: 7.5}, false},
		{"negative rate", model.RuleAction{Type: model.ActionSetCommissionRate, Parameters: json.RawMessage(`{"rate":-1}`)}, nil, true},
		{"missing rate", model.RuleAction{Type: model.ActionSetCommissionRate}, nil, true},
		{"bonus", model.RuleAction{Type: model.ActionAddBonus, Parameters: json.RawMessage(`{"amount":20}`)}, AddBonus{Amount: 20}, false},
		{"webhook without url", model.RuleAction{Type: model.ActionTriggerWebhook, Parameters: json.RawMessage(`{}`)}, nil, true},
		{"notification", model.RuleAction{Type: model.ActionSendNotification}, SendNotification{}, false},
		{"malformed params", model.RuleAction{Type: model.ActionAddBonus, Parameters: json.RawMessage(`[`)}, nil, true},
		{"unknown", model.RuleAction{Type: "noop"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAction(tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
