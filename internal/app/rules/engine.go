package rules

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// RuleSource lists candidate rules for a store, ordered by priority.
type RuleSource interface {
	ListActive(ctx context.Context, storeID string, categories []string, at time.Time) ([]model.ConversionRule, error)
}

// Outcome is the folded effect of every matching rule on a conversion.
type Outcome struct {
	Commission     float64
	CommissionRate float64
	UserTags       []string
	WebhookURLs    []string
	Notifications  []string
	MatchedRules   []string
}

// Engine selects and applies conversion rules.
type Engine struct {
	rules  RuleSource
	logger *zap.Logger
}

func NewEngine(rules RuleSource, log *zap.Logger) *Engine {
	return &Engine{rules: rules, logger: logger.OrNop(log).Named("rule_engine")}
}

// SelectApplicable returns the active rules for the store and categories
// whose conditions match the payload, in listing order.
func (e *Engine) SelectApplicable(ctx context.Context, storeID string, categories []string, p Payload, at time.Time) ([]model.ConversionRule, error) {
	candidates, err := e.rules.ListActive(ctx, storeID, categories, at)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	matched := make([]model.ConversionRule, 0, len(candidates))
	for _, rule := range candidates {
		if Evaluate(rule.Conditions, p) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// Apply runs every matching rule in order. Each rule sees the commission
// produced by the rules before it, and later rules overwrite earlier
// commission outputs.
func (e *Engine) Apply(ctx context.Context, p Payload, at time.Time) (Outcome, error) {
	out := Outcome{
		Commission:     p.Commission,
		CommissionRate: p.CommissionRate,
	}

	matched, err := e.SelectApplicable(ctx, p.StoreID, p.Categories, p, at)
	if err != nil {
		return out, err
	}

	for _, rule := range matched {
		res, execErr := Execute(rule.Actions, p)
		if execErr != nil {
			e.logger.Warn("rule has invalid actions",
				zap.String("rule_id", rule.ID),
				zap.Error(execErr),
			)
		}

		if res.CommissionRate != nil {
			out.CommissionRate = *res.CommissionRate
			p.CommissionRate = *res.CommissionRate
		}
		if res.Commission != nil {
			out.Commission = *res.Commission
			p.Commission = *res.Commission
		}
		out.UserTags = appendUnique(out.UserTags, res.UserTags...)
		out.WebhookURLs = appendUnique(out.WebhookURLs, res.WebhookURLs...)
		out.Notifications = append(out.Notifications, res.Notifications...)
		out.MatchedRules = append(out.MatchedRules, rule.ID)
	}

	if len(out.MatchedRules) > 0 {
		e.logger.Debug("rules applied",
			zap.Strings("rules", out.MatchedRules),
			zap.Float64("commission", out.Commission),
			zap.Float64("commission_rate", out.CommissionRate),
		)
	}
	return out, nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
