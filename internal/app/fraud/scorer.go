// Package fraud scores conversions for fraud risk from behavioural signals.
package fraud

import (
	"strings"
	"time"

	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// Indicator weights.
const (
	PointsExcessiveConversions = 30
	PointsFastConversion       = 25
	PointsHighOrderValue       = 20
	PointsBotUserAgent         = 40
	PointsHighRiskIP           = 35
)

// Levels reported with each assessment.
const (
	LevelClean   = "clean"
	LevelFlagged = "flagged"
	LevelSoft    = "soft"
	LevelHard    = "hard"
)

var defaultBotPatterns = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests",
	"go-http-client", "java/", "okhttp", "headless", "phantomjs", "selenium",
	"puppeteer", "playwright", "postman", "httpclient",
}

// Thresholds tune the scorer.
type Thresholds struct {
	FraudScore          int
	HardFraudScore      int
	ConversionBurst     int64
	MinConversionGap    time.Duration
	HighOrderMultiplier float64
	BotPatterns         []string
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FraudScore:          50,
		HardFraudScore:      80,
		ConversionBurst:     5,
		MinConversionGap:    10 * time.Second,
		HighOrderMultiplier: 10,
		BotPatterns:         defaultBotPatterns,
	}
}

// ThresholdsFrom overlays configured values on the defaults. Configured bot
// patterns extend the built-in list.
func ThresholdsFrom(cfg config.FraudConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.FraudThreshold > 0 {
		t.FraudScore = cfg.FraudThreshold
	}
	if cfg.HardFraudThreshold > 0 {
		t.HardFraudScore = cfg.HardFraudThreshold
	}
	if cfg.ConversionBurst > 0 {
		t.ConversionBurst = cfg.ConversionBurst
	}
	if cfg.MinConversionGap > 0 {
		t.MinConversionGap = cfg.MinConversionGap
	}
	if cfg.HighOrderMultiplier > 0 {
		t.HighOrderMultiplier = cfg.HighOrderMultiplier
	}
	for _, p := range cfg.BotUserAgents {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			t.BotPatterns = append(t.BotPatterns, p)
		}
	}
	return t
}

// Signals are the inputs to a fraud score.
type Signals struct {
	OrderValue             float64
	ClickedAt              time.Time
	ConvertedAt            time.Time
	ConversionsLast24h     int64
	StoreAverageOrderValue float64
	UserAgent              string
	HighRiskIP             bool
}

// Assessment is the outcome of scoring one conversion. RiskScore is the raw
// indicator sum and may exceed 100.
type Assessment struct {
	RiskScore  int
	Indicators []model.FraudIndicator
	Level      string
}

// IsFraud reports whether the assessment crossed the fraud threshold.
func (a Assessment) IsFraud() bool {
	return a.Level == LevelSoft || a.Level == LevelHard
}

// IsHardFraud reports whether the conversion status should change.
func (a Assessment) IsHardFraud() bool {
	return a.Level == LevelHard
}

// Scorer is a pure function of its signals.
type Scorer struct {
	t Thresholds
}

func NewScorer(t Thresholds) Scorer {
	return Scorer{t: t}
}

// Score sums the points of every triggered indicator.
func (s Scorer) Score(sig Signals) Assessment {
	var a Assessment
	hit := func(indicator model.FraudIndicator, points int) {
		a.Indicators = append(a.Indicators, indicator)
		a.RiskScore += points
	}

	if sig.ConversionsLast24h > s.t.ConversionBurst {
		hit(model.IndicatorExcessiveConversions, PointsExcessiveConversions)
	}
	if !sig.ClickedAt.IsZero() && sig.ConvertedAt.Sub(sig.ClickedAt) < s.t.MinConversionGap {
		hit(model.IndicatorFastConversion, PointsFastConversion)
	}
	if sig.StoreAverageOrderValue > 0 && sig.OrderValue > s.t.HighOrderMultiplier*sig.StoreAverageOrderValue {
		hit(model.IndicatorHighOrderValue, PointsHighOrderValue)
	}
	if s.IsBotUserAgent(sig.UserAgent) {
		hit(model.IndicatorBotUserAgent, PointsBotUserAgent)
	}
	if sig.HighRiskIP {
		hit(model.IndicatorHighRiskIP, PointsHighRiskIP)
	}

	switch {
	case a.RiskScore >= s.t.HardFraudScore:
		a.Level = LevelHard
	case a.RiskScore >= s.t.FraudScore:
		a.Level = LevelSoft
	case len(a.Indicators) > 0:
		a.Level = LevelFlagged
	default:
		a.Level = LevelClean
	}
	return a
}

// IsBotUserAgent matches the user agent against the known tooling patterns.
func (s Scorer) IsBotUserAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return false
	}
	for _, p := range s.t.BotPatterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}
