package model

import "time"

type AttributionModel string

const (
	AttributionFirstClick    AttributionModel = "first_click"
	AttributionLastClick     AttributionModel = "last_click"
	AttributionLinear        AttributionModel = "linear"
	AttributionTimeDecay     AttributionModel = "time_decay"
	AttributionPositionBased AttributionModel = "position_based"
)

// Valid reports whether m names a supported weighting model.
func (m AttributionModel) Valid() bool {
	switch m {
	case AttributionFirstClick, AttributionLastClick, AttributionLinear, AttributionTimeDecay, AttributionPositionBased:
		return true
	}
	return false
}

// Touchpoint is one click credited with a share of a conversion.
type Touchpoint struct {
	ClickID              string      `json:"clickId"`
	Source               ClickSource `json:"source"`
	SourceID             string      `json:"sourceId"`
	Timestamp            time.Time   `json:"timestamp"`
	Weight               float64     `json:"weight"`
	AttributedValue      float64     `json:"attributedValue"`
	AttributedCommission float64     `json:"attributedCommission"`
}

type ConversionAttribution struct {
	ID               string           `json:"id" gorm:"primaryKey;size:64"`
	ConversionID     string           `json:"conversionId" gorm:"size:64;not null;uniqueIndex"`
	AttributionModel AttributionModel `json:"attributionModel" gorm:"size:32;not null"`
	Touchpoints      []Touchpoint     `json:"touchpoints" gorm:"type:jsonb;serializer:json"`
	TotalWeight      float64          `json:"totalWeight" gorm:"not null"`
	CreatedAt        time.Time        `json:"createdAt" gorm:"autoCreateTime"`
}

func (ConversionAttribution) TableName() string {
	return "conversion_attributions"
}
