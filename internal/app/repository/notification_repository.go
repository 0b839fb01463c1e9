package repository

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// PixelRepository stores store-registered tracking pixels.
type PixelRepository interface {
	Create(ctx context.Context, pixel *model.TrackingPixel) error
	ListActiveByStore(ctx context.Context, storeID string) ([]model.TrackingPixel, error)
	RecordFire(ctx context.Context, id string, ok bool, at time.Time) error
}

// WebhookSubscriptionRepository stores partner webhook endpoints.
type WebhookSubscriptionRepository interface {
	Create(ctx context.Context, sub *model.WebhookSubscription) error
	List(ctx context.Context) ([]model.WebhookSubscription, error)
	ListActiveForEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error)
	RecordDelivery(ctx context.Context, id string, deliveryErr error, at time.Time) error
}

// DeadLetterRepository stores webhook deliveries that exhausted their retries.
type DeadLetterRepository interface {
	Create(ctx context.Context, letter *model.WebhookDeadLetter) error
}

type pixelRepository struct {
	db *gorm.DB
}

// NewPixelRepository returns a GORM-backed PixelRepository.
func NewPixelRepository(db *gorm.DB) PixelRepository {
	return &pixelRepository{db: db}
}

func (r *pixelRepository) Create(ctx context.Context, pixel *model.TrackingPixel) error {
	return r.db.WithContext(ctx).Create(pixel).Error
}

func (r *pixelRepository) ListActiveByStore(ctx context.Context, storeID string) ([]model.TrackingPixel, error) {
	var pixels []model.TrackingPixel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Order("created_at ASC").
		Find(&pixels).Error
	return pixels, err
}

func (r *pixelRepository) RecordFire(ctx context.Context, id string, ok bool, at time.Time) error {
	column := "fire_count"
	if !ok {
		column = "failure_count"
	}
	return r.db.WithContext(ctx).
		Model(&model.TrackingPixel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:          gorm.Expr(column + " + 1"),
			"last_fired_at": at,
		}).Error
}

type webhookSubscriptionRepository struct {
	db *gorm.DB
}

// NewWebhookSubscriptionRepository returns a GORM-backed WebhookSubscriptionRepository.
func NewWebhookSubscriptionRepository(db *gorm.DB) WebhookSubscriptionRepository {
	return &webhookSubscriptionRepository{db: db}
}

func (r *webhookSubscriptionRepository) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *webhookSubscriptionRepository) List(ctx context.Context) ([]model.WebhookSubscription, error) {
	var subs []model.WebhookSubscription
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&subs).Error
	return subs, err
}

// ListActiveForEvent filters in memory; the subscription table stays small.
func (r *webhookSubscriptionRepository) ListActiveForEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error) {
	var subs []model.WebhookSubscription
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC").Find(&subs).Error; err != nil {
		return nil, err
	}

	matched := subs[:0]
	for i := range subs {
		if subs[i].Subscribed(event) {
			matched = append(matched, subs[i])
		}
	}
	return matched, nil
}

func (r *webhookSubscriptionRepository) RecordDelivery(ctx context.Context, id string, deliveryErr error, at time.Time) error {
	updates := map[string]interface{}{
		"last_delivery_at": at,
	}
	if deliveryErr == nil {
		updates["success_count"] = gorm.Expr("success_count + 1")
		updates["last_error"] = ""
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
		updates["last_error"] = deliveryErr.Error()
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookSubscription{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type deadLetterRepository struct {
	db *gorm.DB
}

// NewDeadLetterRepository returns a GORM-backed DeadLetterRepository.
func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{db: db}
}

func (r *deadLetterRepository) Create(ctx context.Context, letter *model.WebhookDeadLetter) error {
	return r.db.WithContext(ctx).Create(letter).Error
}
