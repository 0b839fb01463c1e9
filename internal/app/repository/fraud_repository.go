package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// FraudRepository defines the data access contract for fraud assessments.
type FraudRepository interface {
	Create(ctx context.Context, record *model.ConversionFraud) error
	GetByConversionID(ctx context.Context, conversionID string) (*model.ConversionFraud, error)
	UpdateStatus(ctx context.Context, conversionID string, status model.FraudStatus, at time.Time) error
}

type fraudRepository struct {
	db *gorm.DB
}

// NewFraudRepository returns a GORM-backed FraudRepository.
func NewFraudRepository(db *gorm.DB) FraudRepository {
	return &fraudRepository{db: db}
}

func (r *fraudRepository) Create(ctx context.Context, record *model.ConversionFraud) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *fraudRepository) GetByConversionID(ctx context.Context, conversionID string) (*model.ConversionFraud, error) {
	var record model.ConversionFraud
	if err := r.db.WithContext(ctx).Where("conversion_id = ?", conversionID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFraudNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *fraudRepository) UpdateStatus(ctx context.Context, conversionID string, status model.FraudStatus, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.ConversionFraud{}).
		Where("conversion_id = ?", conversionID).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFraudNotFound
	}
	return nil
}
