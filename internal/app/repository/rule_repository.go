package repository

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// RuleRepository defines the data access contract for conversion rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *model.ConversionRule) error
	List(ctx context.Context, limit, offset int) ([]model.ConversionRule, error)
	// ListActive returns active rules valid at the given instant that are
	// scoped to the store (or unscoped) and to one of the categories (or
	// unscoped), ordered by priority descending then creation time.
	ListActive(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error)
	IncrementUsage(ctx context.Context, ruleIDs []string, at time.Time) error
}

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository returns a GORM-backed RuleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Create(ctx context.Context, rule *model.ConversionRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *ruleRepository) List(ctx context.Context, limit, offset int) ([]model.ConversionRule, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var rules []model.ConversionRule
	if err := r.db.WithContext(ctx).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) ListActive(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error) {
	q := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("(store_id = '' OR store_id = ?)", storeID).
		Where("(valid_from IS NULL OR valid_from <= ?)", at).
		Where("(valid_until IS NULL OR valid_until >= ?)", at)

	if len(categories) > 0 {
		q = q.Where("(category = '' OR category IN ?)", categories)
	} else {
		q = q.Where("category = ''")
	}

	var rules []model.ConversionRule
	if err := q.Order("priority DESC, created_at ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) IncrementUsage(ctx context.Context, ruleIDs []string, at time.Time) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.ConversionRule{}).
		Where("id IN ?", ruleIDs).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": at,
		}).Error
}
