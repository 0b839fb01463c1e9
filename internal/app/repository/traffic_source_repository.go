package repository

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversionDelta adjusts a traffic source's conversion aggregates. Negative
// values reverse an earlier conversion.
type ConversionDelta struct {
	Conversions int64
	Revenue     float64
	Commission  float64
}

// TrafficSourceRepository maintains per-source performance aggregates.
type TrafficSourceRepository interface {
	// RecordClick creates the source on first sight and increments its click counter.
	RecordClick(ctx context.Context, source *model.TrafficSource, at time.Time) error
	ApplyConversion(ctx context.Context, sourceID string, delta ConversionDelta, at time.Time) error
}

type trafficSourceRepository struct {
	db *gorm.DB
}

// NewTrafficSourceRepository returns a GORM-backed TrafficSourceRepository.
func NewTrafficSourceRepository(db *gorm.DB) TrafficSourceRepository {
	return &trafficSourceRepository{db: db}
}

func (r *trafficSourceRepository) RecordClick(ctx context.Context, source *model.TrafficSource, at time.Time) error {
	row := *source
	row.TotalClicks = 1
	row.LastClickAt = &at

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_clicks":    gorm.Expr("traffic_sources.total_clicks + 1"),
				"conversion_rate": gorm.Expr("traffic_sources.conversions * 100.0 / (traffic_sources.total_clicks + 1)"),
				"last_click_at":   at,
				"updated_at":      at,
			}),
		}).
		Create(&row).Error
}

func (r *trafficSourceRepository) ApplyConversion(ctx context.Context, sourceID string, delta ConversionDelta, at time.Time) error {
	updates := map[string]interface{}{
		"conversions":      gorm.Expr("GREATEST(conversions + ?, 0)", delta.Conversions),
		"conversion_rate":  gorm.Expr("GREATEST(conversions + ?, 0) * 100.0 / GREATEST(total_clicks, 1)", delta.Conversions),
		"total_revenue":    gorm.Expr("total_revenue + ?", delta.Revenue),
		"total_commission": gorm.Expr("total_commission + ?", delta.Commission),
		"updated_at":       at,
	}
	if delta.Conversions > 0 {
		updates["last_conversion_at"] = at
	}

	return r.db.WithContext(ctx).
		Model(&model.TrafficSource{}).
		Where("source_id = ?", sourceID).
		Updates(updates).Error
}
