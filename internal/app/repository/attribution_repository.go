package repository

import (
	"context"
	"errors"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// AttributionRepository defines the data access contract for attribution results.
type AttributionRepository interface {
	Create(ctx context.Context, attribution *model.ConversionAttribution) error
	GetByConversionID(ctx context.Context, conversionID string) (*model.ConversionAttribution, error)
}

type attributionRepository struct {
	db *gorm.DB
}

// NewAttributionRepository returns a GORM-backed AttributionRepository.
func NewAttributionRepository(db *gorm.DB) AttributionRepository {
	return &attributionRepository{db: db}
}

func (r *attributionRepository) Create(ctx context.Context, attribution *model.ConversionAttribution) error {
	return r.db.WithContext(ctx).Create(attribution).Error
}

func (r *attributionRepository) GetByConversionID(ctx context.Context, conversionID string) (*model.ConversionAttribution, error) {
	var attribution model.ConversionAttribution
	if err := r.db.WithContext(ctx).Where("conversion_id = ?", conversionID).First(&attribution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttributionNotFound
		}
		return nil, err
	}
	return &attribution, nil
}
