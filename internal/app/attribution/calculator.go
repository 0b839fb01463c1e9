package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// DefaultWindow is the trailing click history considered for a conversion.
const DefaultWindow = 30 * 24 * time.Hour

// ClickHistory lists a user's clicks in a time range, oldest first.
type ClickHistory interface {
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]model.ClickEvent, error)
}

// Recorder persists attribution results.
type Recorder interface {
	Create(ctx context.Context, attribution *model.ConversionAttribution) error
}

// Calculator attributes conversions to the clicks in their window.
type Calculator struct {
	clicks   ClickHistory
	recorder Recorder
	model    model.AttributionModel
	window   time.Duration
	newID    func() string
	logger   *zap.Logger
}

func NewCalculator(clicks ClickHistory, recorder Recorder, m model.AttributionModel, window time.Duration, log *zap.Logger) *Calculator {
	if !m.Valid() {
		m = model.AttributionLastClick
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Calculator{
		clicks:   clicks,
		recorder: recorder,
		model:    m,
		window:   window,
		newID:    uuid.NewString,
		logger:   logger.OrNop(log).Named("attribution"),
	}
}

// Model returns the weighting model in use.
func (c *Calculator) Model() model.AttributionModel {
	return c.model
}

// Attribute credits the conversion across the user's clicks in the window
// ending at conversion time and persists the result. It returns nil without
// error when the window holds no clicks.
func (c *Calculator) Attribute(ctx context.Context, conv *model.ConversionEvent) (*model.ConversionAttribution, error) {
	from := conv.ConvertedAt.Add(-c.window)
	clicks, err := c.clicks.ListByUserBetween(ctx, conv.UserID, from, conv.ConvertedAt)
	if err != nil {
		return nil, fmt.Errorf("list touchpoints: %w", err)
	}
	if len(clicks) == 0 {
		c.logger.Debug("no touchpoints in window, skipping attribution",
			logger.ConversionID(conv.ID),
			logger.UserID(conv.UserID),
		)
		return nil, nil
	}

	touchpoints, total := Build(c.model, clicks, conv.OrderValue, conv.Commission)
	result := &model.ConversionAttribution{
		ID:               c.newID(),
		ConversionID:     conv.ID,
		AttributionModel: c.model,
		Touchpoints:      touchpoints,
		TotalWeight:      total,
		CreatedAt:        conv.ConvertedAt,
	}
	if err := c.recorder.Create(ctx, result); err != nil {
		return nil, fmt.Errorf("save attribution: %w", err)
	}
	return result, nil
}
