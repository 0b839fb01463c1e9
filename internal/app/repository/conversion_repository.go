package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// ConversionRepository defines the data access contract for conversions.
// Create must enforce order id uniqueness at the storage layer.
type ConversionRepository interface {
	Create(ctx context.Context, conv *model.ConversionEvent) error
	GetByID(ctx context.Context, id string) (*model.ConversionEvent, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.ConversionEvent, error)
	// Transition writes conv's lifecycle columns only while the stored status
	// is one of from, returning ErrStatusChanged otherwise.
	Transition(ctx context.Context, conv *model.ConversionEvent, from ...model.ProcessingStatus) error
	UpdateStatus(ctx context.Context, id string, status model.ProcessingStatus, reason string) error
	// CountByUserSince counts the user's conversions at or after since.
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	// AverageOrderValue averages the store's order values at or after since,
	// ignoring excludeOrderID. Returns 0 when no orders exist.
	AverageOrderValue(ctx context.Context, storeID string, since time.Time, excludeOrderID string) (float64, error)
}

type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository returns a GORM-backed ConversionRepository.
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &conversionRepository{db: db}
}

func (r *conversionRepository) Create(ctx context.Context, conv *model.ConversionEvent) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (r *conversionRepository) GetByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *conversionRepository) GetByOrderID(ctx context.Context, orderID string) (*model.ConversionEvent, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *conversionRepository) first(ctx context.Context, query string, arg any) (*model.ConversionEvent, error) {
	var conv model.ConversionEvent
	if err := r.db.WithContext(ctx).Where(query, arg).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversionNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *conversionRepository) Transition(ctx context.Context, conv *model.ConversionEvent, from ...model.ProcessingStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.ConversionEvent{}).
		Where("id = ? AND processing_status IN ?", conv.ID, from).
		Updates(map[string]interface{}{
			"processing_status": conv.ProcessingStatus,
			"status_reason":     conv.StatusReason,
			"commission":        conv.Commission,
			"refunded_amount":   conv.RefundedAmount,
			"confirmed_at":      conv.ConfirmedAt,
			"cancelled_at":      conv.CancelledAt,
			"refunded_at":       conv.RefundedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.ConversionEvent{}).Where("id = ?", conv.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrConversionNotFound
	}
	return ErrStatusChanged
}

func (r *conversionRepository) UpdateStatus(ctx context.Context, id string, status model.ProcessingStatus, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.ConversionEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": status,
			"status_reason":     reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversionNotFound
	}
	return nil
}

func (r *conversionRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ConversionEvent{}).
		Where("user_id = ? AND converted_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *conversionRepository) AverageOrderValue(ctx context.Context, storeID string, since time.Time, excludeOrderID string) (float64, error) {
	var avg *float64
	err := r.db.WithContext(ctx).
		Model(&model.ConversionEvent{}).
		Select("AVG(order_value)").
		Where("store_id = ? AND converted_at >= ? AND order_id <> ?", storeID, since, excludeOrderID).
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
