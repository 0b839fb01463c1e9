package attribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClickHistory struct {
	listFn func(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error)
}

func (m *mockClickHistory) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, from, to)
	}
	return nil, nil
}

type mockRecorder struct {
	createFn func(ctx context.Context, a *model.ConversionAttribution) error
	created  []*model.ConversionAttribution
}

func (m *mockRecorder) Create(ctx context.Context, a *model.ConversionAttribution) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, a); err != nil {
			return err
		}
	}
	m.created = append(m.created, a)
	return nil
}

func TestCalculator_Attribute_LastClick(t *testing.T) {
	convertedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var from, to time.Time

	history := &mockClickHistory{
		listFn: func(_ context.Context, userID string, f, tt time.Time) ([]model.ClickEvent, error) {
			from, to = f, tt
			return []model.ClickEvent{
				{ClickID: "old", ClickedAt: convertedAt.Add(-48 * time.Hour)},
				{ClickID: "recent", ClickedAt: convertedAt.Add(-time.Minute)},
			}, nil
		},
	}
	recorder := &mockRecorder{}
	calc := NewCalculator(history, recorder, "", 0, nil)

	got, err := calc.Attribute(context.Background(), &model.ConversionEvent{
		ID: "conv-1", UserID: "u1", OrderValue: 500, Commission: 25, ConvertedAt: convertedAt,
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.AttributionLastClick, got.AttributionModel)
	assert.Equal(t, "conv-1", got.ConversionID)
	assert.NotEmpty(t, got.ID)
	assert.InDelta(t, 1.0, got.TotalWeight, 1e-9)
	assert.Equal(t, 0.0, got.Touchpoints[0].Weight)
	assert.Equal(t, "recent", got.Touchpoints[1].ClickID)
	assert.InDelta(t, 25, got.Touchpoints[1].AttributedCommission, 1e-9)

	assert.Equal(t, convertedAt.Add(-DefaultWindow), from)
	assert.Equal(t, convertedAt, to)
	assert.Len(t, recorder.created, 1)
}

func TestCalculator_Attribute_NoTouchpoints(t *testing.T) {
	recorder := &mockRecorder{}
	calc := NewCalculator(&mockClickHistory{}, recorder, model.AttributionLinear, time.Hour, nil)

	got, err := calc.Attribute(context.Background(), &model.ConversionEvent{ID: "conv-2", ConvertedAt: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, recorder.created)
}

func TestCalculator_Attribute_Errors(t *testing.T) {
	failing := &mockClickHistory{
		listFn: func(context.Context, string, time.Time, time.Time) ([]model.ClickEvent, error) {
			return nil, errors.New("db down")
		},
	}
	_, err := NewCalculator(failing, &mockRecorder{}, model.AttributionLinear, 0, nil).
		Attribute(context.Background(), &model.ConversionEvent{})
	assert.Error(t, err)

	history := &mockClickHistory{
		listFn: func(context.Context, string, time.Time, time.Time) ([]model.ClickEvent, error) {
			return []model.ClickEvent{{ClickID: "c"}}, nil
		},
	}
	recorder := &mockRecorder{
		createFn: func(context.Context, *model.ConversionAttribution) error {
			return errors.New("unique violation")
		},
	}
	_, err = NewCalculator(history, recorder, model.AttributionLinear, 0, nil).
		Attribute(context.Background(), &model.ConversionEvent{})
	assert.Error(t, err)
}
