package service

import (
	"context"
	"testing"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAnalyticsRepository struct {
	from, to time.Time
	limit    int
}

func (m *mockAnalyticsRepository) ClickSummary(ctx context.Context, from, to time.Time) (*repository.ClickSummary, error) {
	m.from, m.to = from, to
	return &repository.ClickSummary{RangeStart: from, RangeEnd: to}, nil
}

func (m *mockAnalyticsRepository) ConversionSummary(ctx context.Context, from, to time.Time) (*repository.ConversionSummary, error) {
	m.from, m.to = from, to
	return &repository.ConversionSummary{RangeStart: from, RangeEnd: to}, nil
}

func (m *mockAnalyticsRepository) TopSources(ctx context.Context, limit int) ([]repository.SourcePerformance, error) {
	m.limit = limit
	return nil, nil
}

func newTestAnalytics(repo *mockAnalyticsRepository) *analyticsService {
	svc := NewAnalyticsService(repo).(*analyticsService)
	svc.nowFn = func() time.Time { return pipelineNow }
	return svc
}

func TestAnalyticsService_DefaultRange(t *testing.T) {
	repo := &mockAnalyticsRepository{}
	svc := newTestAnalytics(repo)

	_, err := svc.ClickSummary(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, pipelineNow, repo.to)
	assert.Equal(t, pipelineNow.Add(-7*24*time.Hour), repo.from)
}

func TestAnalyticsService_RejectsInvertedRange(t *testing.T) {
	svc := newTestAnalytics(&mockAnalyticsRepository{})

	_, err := svc.ConversionSummary(context.Background(), pipelineNow, pipelineNow.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ConversionSummary(context.Background(), pipelineNow.Add(-400*24*time.Hour), pipelineNow)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnalyticsService_TopSourcesClampsLimit(t *testing.T) {
	repo := &mockAnalyticsRepository{}
	svc := newTestAnalytics(repo)

	for _, tt := range []struct{ in, want int }{{0, 10}, {-3, 10}, {25, 25}, {1000, 100}} {
		_, err := svc.TopSources(context.Background(), tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, repo.limit)
	}
}
