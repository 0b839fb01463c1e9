package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/repository"
)

const (
	defaultAnalyticsRange = 7 * 24 * time.Hour
	maxAnalyticsRange     = 366 * 24 * time.Hour
	defaultTopSources     = 10
	maxTopSources         = 100
)

// AnalyticsService serves read-only reporting.
type AnalyticsService interface {
	ClickSummary(ctx context.Context, from, to time.Time) (*repository.ClickSummary, error)
	ConversionSummary(ctx context.Context, from, to time.Time) (*repository.ConversionSummary, error)
	TopSources(ctx context.Context, limit int) ([]repository.SourcePerformance, error)
}

type analyticsService struct {
	repo  repository.AnalyticsRepository
	nowFn func() time.Time
}

func NewAnalyticsService(repo repository.AnalyticsRepository) AnalyticsService {
	return &analyticsService{repo: repo, nowFn: func() time.Time { return time.Now().UTC() }}
}

// normaliseRange defaults a missing bound to the trailing week ending now.
func (s *analyticsService) normaliseRange(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.nowFn()
	}
	if from.IsZero() {
		from = to.Add(-defaultAnalyticsRange)
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must precede to", ErrInvalidInput)
	}
	if to.Sub(from) > maxAnalyticsRange {
		return from, to, fmt.Errorf("%w: range exceeds %s", ErrInvalidInput, maxAnalyticsRange)
	}
	return from, to, nil
}

func (s *analyticsService) ClickSummary(ctx context.Context, from, to time.Time) (*repository.ClickSummary, error) {
	from, to, err := s.normaliseRange(from, to)
	if err != nil {
		return nil, err
	}
	summary, err := s.repo.ClickSummary(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("click summary: %w", err)
	}
	return summary, nil
}

func (s *analyticsService) ConversionSummary(ctx context.Context, from, to time.Time) (*repository.ConversionSummary, error) {
	from, to, err := s.normaliseRange(from, to)
	if err != nil {
		return nil, err
	}
	summary, err := s.repo.ConversionSummary(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("conversion summary: %w", err)
	}
	return summary, nil
}

func (s *analyticsService) TopSources(ctx context.Context, limit int) ([]repository.SourcePerformance, error) {
	if limit <= 0 {
		limit = defaultTopSources
	}
	if limit > maxTopSources {
		limit = maxTopSources
	}
	sources, err := s.repo.TopSources(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("top sources: %w", err)
	}
	return sources, nil
}
