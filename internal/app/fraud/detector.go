package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// ConversionHistory answers the behavioural queries behind a score.
type ConversionHistory interface {
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	AverageOrderValue(ctx context.Context, storeID string, since time.Time, excludeOrderID string) (float64, error)
}

// Detector gathers signals for a conversion and scores them.
type Detector struct {
	scorer        Scorer
	history       ConversionHistory
	ipRisk        IPRiskChecker
	burstWindow   time.Duration
	averageWindow time.Duration
	logger        *zap.Logger
}

// DetectorOption customises a Detector.
type DetectorOption func(*Detector)

// WithIPRiskChecker replaces the default checker, which never flags.
func WithIPRiskChecker(c IPRiskChecker) DetectorOption {
	return func(d *Detector) { d.ipRisk = c }
}

// WithWindows overrides the 24h burst and 30-day average windows.
func WithWindows(burst, average time.Duration) DetectorOption {
	return func(d *Detector) {
		if burst > 0 {
			d.burstWindow = burst
		}
		if average > 0 {
			d.averageWindow = average
		}
	}
}

func NewDetector(scorer Scorer, history ConversionHistory, log *zap.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		scorer:        scorer,
		history:       history,
		ipRisk:        NoIPRisk{},
		burstWindow:   24 * time.Hour,
		averageWindow: 30 * 24 * time.Hour,
		logger:        logger.OrNop(log).Named("fraud_detector"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Assess scores a conversion against the click that produced it. The
// conversion is expected to be persisted already, so the 24h count includes it.
func (d *Detector) Assess(ctx context.Context, conv *model.ConversionEvent, click *model.ClickEvent) (Assessment, error) {
	count, err := d.history.CountByUserSince(ctx, conv.UserID, conv.ConvertedAt.Add(-d.burstWindow))
	if err != nil {
		return Assessment{}, fmt.Errorf("count recent conversions: %w", err)
	}
	avg, err := d.history.AverageOrderValue(ctx, conv.StoreID, conv.ConvertedAt.Add(-d.averageWindow), conv.OrderID)
	if err != nil {
		return Assessment{}, fmt.Errorf("store average order value: %w", err)
	}

	sig := Signals{
		OrderValue:             conv.OrderValue,
		ConvertedAt:            conv.ConvertedAt,
		ConversionsLast24h:     count,
		StoreAverageOrderValue: avg,
	}
	if click != nil {
		sig.ClickedAt = click.ClickedAt
		sig.UserAgent = click.UserAgent
		sig.HighRiskIP = click.IPAddress != "" && d.ipRisk.IsHighRisk(ctx, click.IPAddress)
	}

	a := d.scorer.Score(sig)
	if len(a.Indicators) > 0 {
		d.logger.Debug("fraud indicators found",
			logger.OrderID(conv.OrderID),
			zap.Int("risk_score", a.RiskScore),
			zap.Any("indicators", a.Indicators),
		)
	}
	return a, nil
}
