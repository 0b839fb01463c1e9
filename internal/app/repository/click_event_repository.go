package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// ClickEventRepository defines the data access contract for click events.
type ClickEventRepository interface {
	Create(ctx context.Context, event *model.ClickEvent) error
	GetByID(ctx context.Context, clickID string) (*model.ClickEvent, error)
	// ListByUserBetween returns the user's clicks in [from, to], oldest first.
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error)
}

type clickEventRepository struct {
	db *gorm.DB
}

// NewClickEventRepository returns a GORM-backed ClickEventRepository.
func NewClickEventRepository(db *gorm.DB) ClickEventRepository {
	return &clickEventRepository{db: db}
}

func (r *clickEventRepository) Create(ctx context.Context, event *model.ClickEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *clickEventRepository) GetByID(ctx context.Context, clickID string) (*model.ClickEvent, error) {
	var event model.ClickEvent
	if err := r.db.WithContext(ctx).Where("click_id = ?", clickID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClickNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *clickEventRepository) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error) {
	var events []model.ClickEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND clicked_at >= ? AND clicked_at <= ?", userID, from, to).
		Order("clicked_at ASC, click_id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
