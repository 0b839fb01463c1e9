package service

import (
	"context"
	"sync"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/rules"
)

type mockClickRepository struct {
	createFn func(ctx context.Context, event *model.ClickEvent) error
	getFn    func(ctx context.Context, clickID string) (*model.ClickEvent, error)
}

func (m *mockClickRepository) Create(ctx context.Context, event *model.ClickEvent) error {
	if m.createFn != nil {
		return m.createFn(ctx, event)
	}
	return nil
}

func (m *mockClickRepository) GetByID(ctx context.Context, clickID string) (*model.ClickEvent, error) {
	if m.getFn != nil {
		return m.getFn(ctx, clickID)
	}
	return nil, repository.ErrClickNotFound
}

func (m *mockClickRepository) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error) {
	return nil, nil
}

// memConversionRepository keeps conversions in memory and enforces the
// unique order id the way the database does.
type memConversionRepository struct {
	mu        sync.Mutex
	byID      map[string]*model.ConversionEvent
	orders    map[string]string
	createErr error
	lookups   int
	// beforeTransition runs once, outside the lock, ahead of the next Transition.
	beforeTransition func()
}

func newMemConversionRepository() *memConversionRepository {
	return &memConversionRepository{
		byID:   make(map[string]*model.ConversionEvent),
		orders: make(map[string]string),
	}
}

func (m *memConversionRepository) Create(ctx context.Context, conv *model.ConversionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.orders[conv.OrderID]; ok {
		return repository.ErrDuplicateOrder
	}
	clone := *conv
	m.byID[conv.ID] = &clone
	m.orders[conv.OrderID] = conv.ID
	return nil
}

func (m *memConversionRepository) GetByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrConversionNotFound
	}
	clone := *conv
	return &clone, nil
}

func (m *memConversionRepository) GetByOrderID(ctx context.Context, orderID string) (*model.ConversionEvent, error) {
	m.mu.Lock()
	m.lookups++
	id, ok := m.orders[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrConversionNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *memConversionRepository) Transition(ctx context.Context, conv *model.ConversionEvent, from ...model.ProcessingStatus) error {
	if hook := m.beforeTransition; hook != nil {
		m.beforeTransition = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[conv.ID]
	if !ok {
		return repository.ErrConversionNotFound
	}
	for _, status := range from {
		if stored.ProcessingStatus == status {
			clone := *conv
			m.byID[conv.ID] = &clone
			return nil
		}
	}
	return repository.ErrStatusChanged
}

func (m *memConversionRepository) UpdateStatus(ctx context.Context, id string, status model.ProcessingStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return repository.ErrConversionNotFound
	}
	conv.ProcessingStatus = status
	conv.StatusReason = reason
	return nil
}

func (m *memConversionRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return 0, nil
}

func (m *memConversionRepository) AverageOrderValue(ctx context.Context, storeID string, since time.Time, excludeOrderID string) (float64, error) {
	return 0, nil
}

type fraudUpdate struct {
	conversionID string
	status       model.FraudStatus
}

type mockFraudRepository struct {
	mu        sync.Mutex
	created   []model.ConversionFraud
	updates   []fraudUpdate
	updateErr error
}

func (m *mockFraudRepository) Create(ctx context.Context, record *model.ConversionFraud) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, *record)
	return nil
}

func (m *mockFraudRepository) GetByConversionID(ctx context.Context, conversionID string) (*model.ConversionFraud, error) {
	return nil, repository.ErrFraudNotFound
}

func (m *mockFraudRepository) UpdateStatus(ctx context.Context, conversionID string, status model.FraudStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, fraudUpdate{conversionID: conversionID, status: status})
	return m.updateErr
}

type mockSourceRepository struct {
	mu      sync.Mutex
	clicks  []string
	deltas  []repository.ConversionDelta
	clickFn func(ctx context.Context, source *model.TrafficSource, at time.Time) error
}

func (m *mockSourceRepository) RecordClick(ctx context.Context, source *model.TrafficSource, at time.Time) error {
	m.mu.Lock()
	m.clicks = append(m.clicks, source.SourceID)
	m.mu.Unlock()
	if m.clickFn != nil {
		return m.clickFn(ctx, source, at)
	}
	return nil
}

func (m *mockSourceRepository) ApplyConversion(ctx context.Context, sourceID string, delta repository.ConversionDelta, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltas = append(m.deltas, delta)
	return nil
}

type mockSessionArchive struct {
	mu     sync.Mutex
	deltas map[string][]model.SessionDelta
}

func (m *mockSessionArchive) ApplyDelta(ctx context.Context, sessionID string, delta model.SessionDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deltas == nil {
		m.deltas = make(map[string][]model.SessionDelta)
	}
	m.deltas[sessionID] = append(m.deltas[sessionID], delta)
	return nil
}

type mockRuleApplier struct {
	applyFn func(ctx context.Context, p rules.Payload, at time.Time) (rules.Outcome, error)
}

func (m *mockRuleApplier) Apply(ctx context.Context, p rules.Payload, at time.Time) (rules.Outcome, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, p, at)
	}
	return rules.Outcome{Commission: p.Commission, CommissionRate: p.CommissionRate}, nil
}

type mockRuleUsage struct {
	calls [][]string
}

func (m *mockRuleUsage) IncrementUsage(ctx context.Context, ruleIDs []string, at time.Time) error {
	m.calls = append(m.calls, ruleIDs)
	return nil
}

type mockFraudAssessor struct {
	assessFn func(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error)
}

func (m *mockFraudAssessor) Assess(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (fraud.Assessment, error) {
	if m.assessFn != nil {
		return m.assessFn(ctx, conv, click)
	}
	return fraud.Assessment{Level: fraud.LevelClean}, nil
}

type mockAttributor struct {
	attributeFn func(ctx context.Context, conv *model.ConversionEvent) (*model.ConversionAttribution, error)
}

func (m *mockAttributor) Attribute(ctx context.Context, conv *model.ConversionEvent) (*model.ConversionAttribution, error) {
	if m.attributeFn != nil {
		return m.attributeFn(ctx, conv)
	}
	return nil, nil
}

type recordingQueue struct {
	mu      sync.Mutex
	intents []model.NotificationIntent
}

func (q *recordingQueue) Publish(ctx context.Context, intent model.NotificationIntent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, intent)
	return nil
}

func (q *recordingQueue) events() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.intents))
	for _, in := range q.intents {
		out = append(out, in.Event)
	}
	return out
}

type recordingSettlement struct {
	events []SettlementEvent
}

func (r *recordingSettlement) Send(ctx context.Context, key string, value any) error {
	r.events = append(r.events, value.(SettlementEvent))
	return nil
}
