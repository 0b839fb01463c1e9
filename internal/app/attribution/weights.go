// Package attribution distributes conversion credit across a user's clicks.
package attribution

import (
	"math"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

const (
	timeDecayFactor  = 0.7
	positionEndShare = 0.4
)

// Weights returns the credit share of each of n chronologically ordered
// touchpoints under m. Every model yields non-negative weights summing to 1;
// unknown models fall back to last click.
//
// position_based gives the first and last touchpoint 0.4 each and splits 0.2
// across the middle. With exactly two touchpoints there is no middle, so each
// end gets 0.5.
func Weights(m model.AttributionModel, n int) []float64 {
	if n <= 0 {
		return nil
	}
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}

	switch m {
	case model.AttributionFirstClick:
		w[0] = 1
	case model.AttributionLinear:
		for i := range w {
			w[i] = 1 / float64(n)
		}
	case model.AttributionTimeDecay:
		var total float64
		for i := range w {
			w[i] = math.Pow(timeDecayFactor, float64(n-1-i))
			total += w[i]
		}
		for i := range w {
			w[i] /= total
		}
	case model.AttributionPositionBased:
		if n == 2 {
			w[0], w[1] = 0.5, 0.5
			break
		}
		w[0], w[n-1] = positionEndShare, positionEndShare
		middle := (1 - 2*positionEndShare) / float64(n-2)
		for i := 1; i < n-1; i++ {
			w[i] = middle
		}
	default:
		w[n-1] = 1
	}
	return w
}

// Build credits clicks with shares of orderValue and commission. Clicks must
// be ordered oldest first. Shares are rounded to cents and the rounding
// remainder lands on the last weighted touchpoint, so the shares add up to the
// rounded order value and commission.
func Build(m model.AttributionModel, clicks []model.ClickEvent, orderValue, commission float64) ([]model.Touchpoint, float64) {
	weights := Weights(m, len(clicks))

	touchpoints := make([]model.Touchpoint, len(clicks))
	var total, valueSum, commissionSum float64
	last := -1
	for i, click := range clicks {
		touchpoints[i] = model.Touchpoint{
			ClickID:              click.ClickID,
			Source:               click.Source,
			SourceID:             click.SourceID,
			Timestamp:            click.ClickedAt,
			Weight:               weights[i],
			AttributedValue:      round2(orderValue * weights[i]),
			AttributedCommission: round2(commission * weights[i]),
		}
		total += weights[i]
		valueSum += touchpoints[i].AttributedValue
		commissionSum += touchpoints[i].AttributedCommission
		if weights[i] > 0 {
			last = i
		}
	}
	if last >= 0 {
		touchpoints[last].AttributedValue = round2(touchpoints[last].AttributedValue + round2(orderValue) - valueSum)
		touchpoints[last].AttributedCommission = round2(touchpoints[last].AttributedCommission + round2(commission) - commissionSum)
	}
	return touchpoints, total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
