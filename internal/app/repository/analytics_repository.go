package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClickSummary aggregates click activity over a time range.
type ClickSummary struct {
	TotalClicks int64            `json:"totalClicks"`
	UniqueUsers int64            `json:"uniqueUsers"`
	BySource    map[string]int64 `json:"bySource"`
	RangeStart  time.Time        `json:"from"`
	RangeEnd    time.Time        `json:"to"`
}

// ConversionSummary aggregates conversions over a time range.
type ConversionSummary struct {
	TotalConversions int64            `json:"totalConversions"`
	TotalRevenue     float64          `json:"totalRevenue"`
	TotalCommission  float64          `json:"totalCommission"`
	ByStatus         map[string]int64 `json:"byStatus"`
	RangeStart       time.Time        `json:"from"`
	RangeEnd         time.Time        `json:"to"`
}

// SourcePerformance is one row of the top traffic sources report.
type SourcePerformance struct {
	SourceID        string  `json:"sourceId"`
	Source          string  `json:"source"`
	TotalClicks     int64   `json:"totalClicks"`
	Conversions     int64   `json:"conversions"`
	ConversionRate  float64 `json:"conversionRate"`
	TotalRevenue    float64 `json:"totalRevenue"`
	TotalCommission float64 `json:"totalCommission"`
}

// AnalyticsRepository runs read-only reporting queries.
type AnalyticsRepository interface {
	ClickSummary(ctx context.Context, from, to time.Time) (*ClickSummary, error)
	ConversionSummary(ctx context.Context, from, to time.Time) (*ConversionSummary, error)
	TopSources(ctx context.Context, limit int) ([]SourcePerformance, error)
}

type analyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository returns an AnalyticsRepository on a raw pgx pool.
func NewAnalyticsRepository(pool *pgxpool.Pool) AnalyticsRepository {
	return &analyticsRepository{pool: pool}
}

const clickSummaryQuery = `
SELECT source, COUNT(*)
FROM click_events
WHERE clicked_at >= $1 AND clicked_at < $2
GROUP BY source`

const uniqueClickUsersQuery = `
SELECT COUNT(DISTINCT user_id)
FROM click_events
WHERE clicked_at >= $1 AND clicked_at < $2`

func (r *analyticsRepository) ClickSummary(ctx context.Context, from, to time.Time) (*ClickSummary, error) {
	summary := &ClickSummary{
		BySource:   make(map[string]int64),
		RangeStart: from,
		RangeEnd:   to,
	}

	rows, err := r.pool.Query(ctx, clickSummaryQuery, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source string
			count  int64
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		summary.BySource[source] = count
		summary.TotalClicks += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.pool.QueryRow(ctx, uniqueClickUsersQuery, from, to).Scan(&summary.UniqueUsers); err != nil {
		return nil, err
	}
	return summary, nil
}

const conversionSummaryQuery = `
SELECT processing_status, COUNT(*), COALESCE(SUM(order_value), 0), COALESCE(SUM(commission), 0)
FROM conversion_events
WHERE converted_at >= $1 AND converted_at < $2
GROUP BY processing_status`

func (r *analyticsRepository) ConversionSummary(ctx context.Context, from, to time.Time) (*ConversionSummary, error) {
	summary := &ConversionSummary{
		ByStatus:   make(map[string]int64),
		RangeStart: from,
		RangeEnd:   to,
	}

	rows, err := r.pool.Query(ctx, conversionSummaryQuery, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status     string
			count      int64
			revenue    float64
			commission float64
		)
		if err := rows.Scan(&status, &count, &revenue, &commission); err != nil {
			return nil, err
		}
		summary.ByStatus[status] = count
		summary.TotalConversions += count
		summary.TotalRevenue += revenue
		summary.TotalCommission += commission
	}
	return summary, rows.Err()
}

const topSourcesQuery = `
SELECT source_id, source, total_clicks, conversions, conversion_rate, total_revenue, total_commission
FROM traffic_sources
ORDER BY total_commission DESC, total_clicks DESC
LIMIT $1`

func (r *analyticsRepository) TopSources(ctx context.Context, limit int) ([]SourcePerformance, error) {
	rows, err := r.pool.Query(ctx, topSourcesQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SourcePerformance
	for rows.Next() {
		var s SourcePerformance
		if err := rows.Scan(&s.SourceID, &s.Source, &s.TotalClicks, &s.Conversions, &s.ConversionRate, &s.TotalRevenue, &s.TotalCommission); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
