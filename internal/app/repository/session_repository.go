package repository

import (
	"context"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository archives sessions closed by the expiry sweep.
type SessionRepository interface {
	Save(ctx context.Context, session *model.ClickSession) error
	GetByID(ctx context.Context, sessionID string) (*model.ClickSession, error)
	// ApplyDelta increments counters on an archived session.
	ApplyDelta(ctx context.Context, sessionID string, delta model.SessionDelta) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository returns a GORM-backed SessionRepository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Save(ctx context.Context, session *model.ClickSession) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_activity_at", "ended_at", "duration_seconds", "click_count",
				"conversion_count", "total_revenue", "total_commission", "is_active",
			}),
		}).
		Create(session).Error
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*model.ClickSession, error) {
	var session model.ClickSession
	result := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Limit(1).Find(&session)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (r *sessionRepository) ApplyDelta(ctx context.Context, sessionID string, delta model.SessionDelta) error {
	result := r.db.WithContext(ctx).
		Model(&model.ClickSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"click_count":      gorm.Expr("click_count + ?", delta.Clicks),
			"conversion_count": gorm.Expr("conversion_count + ?", delta.Conversions),
			"total_revenue":    gorm.Expr("total_revenue + ?", delta.Revenue),
			"total_commission": gorm.Expr("total_commission + ?", delta.Commission),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
