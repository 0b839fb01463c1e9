package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/rules"
	"github.com/sifan077/PowerTrack/internal/app/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pipelineNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type pipelineFixture struct {
	svc         *conversionService
	conversions *memConversionRepository
	frauds      *mockFraudRepository
	sources     *mockSourceRepository
	archive     *mockSessionArchive
	queue       *recordingQueue
	settlement  *recordingSettlement
	usage       *mockRuleUsage
	rules       *mockRuleApplier
	assessor    *mockFraudAssessor
	attributor  *mockAttributor
	sessions    *session.MemoryStore
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		conversions: newMemConversionRepository(),
		frauds:      &mockFraudRepository{},
		sources:     &mockSourceRepository{},
		archive:     &mockSessionArchive{},
		queue:       &recordingQueue{},
		settlement:  &recordingSettlement{},
		usage:       &mockRuleUsage{},
		rules:       &mockRuleApplier{},
		assessor:    &mockFraudAssessor{},
		attributor:  &mockAttributor{},
		sessions:    session.NewMemoryStore(30 * time.Minute),
	}

	click := &model.ClickEvent{
		ClickID:   "clk_1",
		UserID:    "u1",
		SessionID: "sess-gone",
		StoreID:   "store-1",
		StoreName: "Store One",
		SourceID:  "group:g1",
		Source:    model.SourceGroup,
		ClickedAt: pipelineNow.Add(-time.Hour),
	}
	clicks := &mockClickRepository{
		getFn: func(ctx context.Context, clickID string) (*model.ClickEvent, error) {
			if clickID == click.ClickID {
				c := *click
				return &c, nil
			}
			return nil, repository.ErrClickNotFound
		},
	}

	ids := 0
	svc := NewConversionService(ConversionDeps{
		Clicks:         clicks,
		Conversions:    f.conversions,
		Frauds:         f.frauds,
		Sources:        f.sources,
		Sessions:       f.sessions,
		SessionArchive: f.archive,
		Rules:          f.rules,
		RuleUsage:      f.usage,
		Fraud:          f.assessor,
		Attribution:    f.attributor,
		Notifications:  f.queue,
		Settlement:     f.settlement,
		OrderFilter:    NewOrderFilter(1000),
	}).(*conversionService)
	svc.nowFn = func() time.Time { return pipelineNow }
	svc.newID = func() string {
		ids++
		return "id-" + string(rune('a'+ids-1))
	}
	f.svc = svc
	return f
}

func webhookInput() ConversionWebhookInput {
	return ConversionWebhookInput{
		OrderID:        "order-1",
		ClickID:        "clk_1",
		OrderValue:     1000,
		Currency:       "usd",
		CommissionRate: 8,
	}
}

func TestHandleConversionWebhook_Success(t *testing.T) {
	f := newPipelineFixture(t)
	f.rules.applyFn = func(ctx context.Context, p rules.Payload, at time.Time) (rules.Outcome, error) {
		assert.Equal(t, 80.0, p.Commission)
		return rules.Outcome{
			Commission:     100,
			CommissionRate: 10,
			MatchedRules:   []string{"rule-1"},
			UserTags:       []string{"vip"},
			WebhookURLs:    []string{"https://hooks.example.com/rule"},
		}, nil
	}

	res, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	conv := res.Conversion
	assert.Equal(t, "u1", conv.UserID)
	assert.Equal(t, "store-1", conv.StoreID)
	assert.Equal(t, "USD", conv.Currency)
	assert.Equal(t, 100.0, conv.Commission)
	assert.Equal(t, 10.0, conv.CommissionRate)
	assert.Equal(t, model.StatusPending, conv.ProcessingStatus)
	assert.Equal(t, []string{"rule-1"}, conv.AppliedRules)
	assert.Equal(t, []string{"vip"}, conv.UserTags)

	stored, err := f.conversions.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, stored.ID)

	require.Len(t, f.sources.deltas, 1)
	assert.Equal(t, repository.ConversionDelta{Conversions: 1, Revenue: 1000, Commission: 100}, f.sources.deltas[0])
	assert.Equal(t, []model.SessionDelta{{Conversions: 1, Revenue: 1000, Commission: 100}}, f.archive.deltas["sess-gone"])

	require.Len(t, f.queue.intents, 1)
	assert.Equal(t, model.EventConversionCreated, f.queue.intents[0].Event)
	assert.Equal(t, []string{"https://hooks.example.com/rule"}, f.queue.intents[0].RuleWebhooks)
	require.Len(t, f.settlement.events, 1)
	assert.Equal(t, model.EventConversionCreated, f.settlement.events[0].Event)
	assert.Equal(t, [][]string{{"rule-1"}}, f.usage.calls)
}

func TestHandleConversionWebhook_PayloadCommissionWins(t *testing.T) {
	f := newPipelineFixture(t)
	input := webhookInput()
	input.Commission = 42.5

	res, err := f.svc.HandleConversionWebhook(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 42.5, res.Conversion.Commission)
}

func TestHandleConversionWebhook_Duplicate(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first, err := f.svc.HandleConversionWebhook(ctx, webhookInput())
	require.NoError(t, err)
	second, err := f.svc.HandleConversionWebhook(ctx, webhookInput())
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Conversion.ID, second.Conversion.ID)
	assert.Len(t, f.sources.deltas, 1)
	assert.Equal(t, []string{model.EventConversionCreated}, f.queue.events())
}

func TestHandleConversionWebhook_OrderFilterSkipsLookupForNewOrders(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	assert.Zero(t, f.conversions.lookups)
}

func TestHandleConversionWebhook_ConcurrentInsertReturnsExisting(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.conversions.Create(context.Background(), &model.ConversionEvent{ID: "winner", OrderID: "order-1"}))

	res, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "winner", res.Conversion.ID)
	assert.Empty(t, f.queue.intents)
}

func TestHandleConversionWebhook_MissingClick(t *testing.T) {
	f := newPipelineFixture(t)
	input := webhookInput()
	input.ClickID = "clk_unknown"

	_, err := f.svc.HandleConversionWebhook(context.Background(), input)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrClickNotFound)
	_, err = f.conversions.GetByOrderID(context.Background(), "order-1")
	assert.ErrorIs(t, err, repository.ErrConversionNotFound)
}

func TestHandleConversionWebhook_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *ConversionWebhookInput)
	}{
		{"missing order", func(in *ConversionWebhookInput) { in.OrderID = "" }},
		{"missing click", func(in *ConversionWebhookInput) { in.ClickID = " " }},
		{"negative value", func(in *ConversionWebhookInput) { in.OrderValue = -1 }},
		{"negative commission", func(in *ConversionWebhookInput) { in.Commission = -5 }},
		{"missing currency", func(in *ConversionWebhookInput) { in.Currency = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			in := webhookInput()
			tt.mutate(&in)
			_, err := f.svc.HandleConversionWebhook(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestHandleConversionWebhook_HardFraud(t *testing.T) {
	f := newPipelineFixture(t)
	f.assessor.assessFn = func(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error) {
		return fraud.Assessment{
			RiskScore:  85,
			Indicators: []model.FraudIndicator{model.IndicatorBotUserAgent, model.IndicatorExcessiveConversions, model.IndicatorHighRiskIP},
			Level:      fraud.LevelHard,
		}, nil
	}

	res, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	require.NotNil(t, res.Fraud)
	assert.Equal(t, model.StatusFraudDetected, res.Conversion.ProcessingStatus)
	assert.Equal(t, "fraud score 85", res.Conversion.StatusReason)

	stored, err := f.conversions.GetByID(context.Background(), res.Conversion.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFraudDetected, stored.ProcessingStatus)

	require.Len(t, f.frauds.created, 1)
	assert.Equal(t, model.FraudPending, f.frauds.created[0].Status)
	assert.Equal(t, 85, f.frauds.created[0].RiskScore)
	assert.Equal(t, []string{model.EventConversionCreated, model.EventFraudDetected}, f.queue.events())
}

func TestHandleConversionWebhook_SoftFraudStaysPending(t *testing.T) {
	f := newPipelineFixture(t)
	f.assessor.assessFn = func(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error) {
		return fraud.Assessment{
			RiskScore:  55,
			Indicators: []model.FraudIndicator{model.IndicatorExcessiveConversions, model.IndicatorFastConversion},
			Level:      fraud.LevelSoft,
		}, nil
	}

	res, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Conversion.ProcessingStatus)
	require.Len(t, f.frauds.created, 1)
	assert.Equal(t, model.FraudPending, f.frauds.created[0].Status)
	assert.Equal(t, []string{model.EventConversionCreated}, f.queue.events())
}

func TestHandleConversionWebhook_LowScoreIndicatorIsCleared(t *testing.T) {
	f := newPipelineFixture(t)
	f.assessor.assessFn = func(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error) {
		return fraud.Assessment{
			RiskScore:  20,
			Indicators: []model.FraudIndicator{model.IndicatorHighOrderValue},
			Level:      fraud.LevelFlagged,
		}, nil
	}

	_, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	require.Len(t, f.frauds.created, 1)
	assert.Equal(t, model.FraudCleared, f.frauds.created[0].Status)
}

func TestHandleConversionWebhook_DownstreamFailuresAreNotFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.assessor.assessFn = func(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error) {
		return fraud.Assessment{}, errors.New("history unavailable")
	}
	f.attributor.attributeFn = func(ctx context.Context, conv *model.ConversionEvent) (*model.ConversionAttribution, error) {
		return nil, errors.New("clicks unavailable")
	}

	res, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.NoError(t, err)
	assert.Nil(t, res.Fraud)
	assert.Nil(t, res.Attribution)
	assert.Equal(t, model.StatusPending, res.Conversion.ProcessingStatus)
}

func TestHandleConversionWebhook_RuleFailureRejects(t *testing.T) {
	f := newPipelineFixture(t)
	f.rules.applyFn = func(ctx context.Context, p rules.Payload, at time.Time) (rules.Outcome, error) {
		return rules.Outcome{}, errors.New("rules unavailable")
	}

	_, err := f.svc.HandleConversionWebhook(context.Background(), webhookInput())
	require.Error(t, err)
	_, err = f.conversions.GetByOrderID(context.Background(), "order-1")
	assert.ErrorIs(t, err, repository.ErrConversionNotFound)
}

func TestHandleConversionWebhook_TouchesLiveSession(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	sess, err := f.sessions.GetOrCreate(ctx, "u1", pipelineNow.Add(-time.Minute))
	require.NoError(t, err)

	clicks := f.svc.Clicks.(*mockClickRepository)
	clicks.getFn = func(ctx context.Context, clickID string) (*model.ClickEvent, error) {
		return &model.ClickEvent{ClickID: clickID, UserID: "u1", StoreID: "store-1", SessionID: sess.SessionID}, nil
	}

	_, err = f.svc.HandleConversionWebhook(ctx, webhookInput())
	require.NoError(t, err)

	live, err := f.sessions.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live.ConversionCount)
	assert.Equal(t, 1000.0, live.TotalRevenue)
	assert.Equal(t, 80.0, live.TotalCommission)
	assert.Empty(t, f.archive.deltas)
}

func seedConversion(t *testing.T, f *pipelineFixture, status model.ProcessingStatus) *model.ConversionEvent {
	t.Helper()
	conv := &model.ConversionEvent{
		ID:               "conv-1",
		OrderID:          "order-9",
		ClickID:          "clk_1",
		UserID:           "u1",
		StoreID:          "store-1",
		SourceID:         "group:g1",
		OrderValue:       200,
		Currency:         "USD",
		Commission:       20,
		CommissionRate:   10,
		ProcessingStatus: status,
	}
	require.NoError(t, f.conversions.Create(context.Background(), conv))
	return conv
}

func TestConfirmConversion(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusFraudDetected)

	conv, err := f.svc.ConfirmConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, conv.ProcessingStatus)
	require.NotNil(t, conv.ConfirmedAt)
	assert.Equal(t, []fraudUpdate{{conversionID: "conv-1", status: model.FraudCleared}}, f.frauds.updates)
	assert.Equal(t, []string{model.EventConversionConfirmed}, f.queue.events())
	require.Len(t, f.settlement.events, 1)
	assert.Equal(t, model.StatusConfirmed, f.settlement.events[0].Status)
}

func TestConfirmConversion_IgnoresMissingFraudRecord(t *testing.T) {
	f := newPipelineFixture(t)
	f.frauds.updateErr = repository.ErrFraudNotFound
	seedConversion(t, f, model.StatusPending)

	_, err := f.svc.ConfirmConversion(context.Background(), "conv-1")
	assert.NoError(t, err)
}

func TestCancelConversion(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusConfirmed)

	conv, err := f.svc.CancelConversion(context.Background(), "conv-1", "customer cancelled")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, conv.ProcessingStatus)
	assert.Equal(t, "customer cancelled", conv.StatusReason)
	assert.Equal(t, []repository.ConversionDelta{{Conversions: -1, Revenue: -200, Commission: -20}}, f.sources.deltas)
}

func TestRefundConversion_Partial(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusConfirmed)

	conv, err := f.svc.RefundConversion(context.Background(), "conv-1", 50, "one item returned")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, conv.ProcessingStatus)
	assert.Equal(t, 50.0, conv.RefundedAmount)
	assert.Equal(t, 15.0, conv.Commission)
	assert.Equal(t, []repository.ConversionDelta{{Revenue: -50, Commission: -5}}, f.sources.deltas)
}

func TestRefundConversion_Full(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusPending)

	conv, err := f.svc.RefundConversion(context.Background(), "conv-1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 200.0, conv.RefundedAmount)
	assert.Zero(t, conv.Commission)
	assert.Equal(t, []repository.ConversionDelta{{Conversions: -1, Revenue: -200, Commission: -20}}, f.sources.deltas)
	assert.Equal(t, []string{model.EventConversionRefunded}, f.queue.events())
}

func TestRefundConversion_ExceedsOrderValue(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusConfirmed)

	_, err := f.svc.RefundConversion(context.Background(), "conv-1", 250, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	stored, err := f.conversions.GetByID(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.ProcessingStatus)
}

func TestLifecycle_ConcurrentTransitionIsRejected(t *testing.T) {
	f := newPipelineFixture(t)
	seedConversion(t, f, model.StatusConfirmed)

	var refundErr error
	f.conversions.beforeTransition = func() {
		_, refundErr = f.svc.RefundConversion(context.Background(), "conv-1", 0, "")
	}

	_, cancelErr := f.svc.CancelConversion(context.Background(), "conv-1", "customer cancelled")
	require.NoError(t, refundErr)
	assert.ErrorIs(t, cancelErr, ErrInvalidTransition)

	stored, err := f.svc.GetConversion(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, stored.ProcessingStatus)
	assert.Equal(t, []repository.ConversionDelta{{Conversions: -1, Revenue: -200, Commission: -20}}, f.sources.deltas)
	assert.Equal(t, []string{model.EventConversionRefunded}, f.queue.events())
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		status model.ProcessingStatus
		call   func(svc *conversionService) error
	}{
		{"confirm cancelled", model.StatusCancelled, func(svc *conversionService) error {
			_, err := svc.ConfirmConversion(context.Background(), "conv-1")
			return err
		}},
		{"confirm confirmed", model.StatusConfirmed, func(svc *conversionService) error {
			_, err := svc.ConfirmConversion(context.Background(), "conv-1")
			return err
		}},
		{"cancel refunded", model.StatusRefunded, func(svc *conversionService) error {
			_, err := svc.CancelConversion(context.Background(), "conv-1", "")
			return err
		}},
		{"refund cancelled", model.StatusCancelled, func(svc *conversionService) error {
			_, err := svc.RefundConversion(context.Background(), "conv-1", 0, "")
			return err
		}},
		{"refund fraud", model.StatusFraudDetected, func(svc *conversionService) error {
			_, err := svc.RefundConversion(context.Background(), "conv-1", 0, "")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			seedConversion(t, f, tt.status)
			assert.ErrorIs(t, tt.call(f.svc), ErrInvalidTransition)
			assert.Empty(t, f.queue.intents)
		})
	}
}

func TestGetConversion_NotFound(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.svc.GetConversion(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrConversionNotFound)
}
