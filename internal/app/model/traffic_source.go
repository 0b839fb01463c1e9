package model

import (
	"strings"
	"time"
)

// TrafficSource aggregates performance counters for one click origin.
type TrafficSource struct {
	SourceID         string      `json:"sourceId" gorm:"primaryKey;size:255"`
	Source           ClickSource `json:"source" gorm:"size:32;not null;index"`
	ChannelID        string      `json:"channelId,omitempty" gorm:"size:128"`
	GroupID          string      `json:"groupId,omitempty" gorm:"size:128"`
	CampaignID       string      `json:"campaignId,omitempty" gorm:"size:128"`
	TotalClicks      int64       `json:"totalClicks" gorm:"not null;default:0"`
	Conversions      int64       `json:"conversions" gorm:"not null;default:0"`
	ConversionRate   float64     `json:"conversionRate" gorm:"not null;default:0"`
	TotalRevenue     float64     `json:"totalRevenue" gorm:"not null;default:0"`
	TotalCommission  float64     `json:"totalCommission" gorm:"not null;default:0"`
	LastClickAt      *time.Time  `json:"lastClickAt,omitempty"`
	LastConversionAt *time.Time  `json:"lastConversionAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time   `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (TrafficSource) TableName() string {
	return "traffic_sources"
}

// DeriveSourceID builds the stable aggregate key for a click origin, e.g.
// "group:-1001234" or "personal_channel:news:campaign:spring".
func DeriveSourceID(source ClickSource, details SourceDetails) string {
	parts := []string{string(source)}
	switch {
	case details.ChannelID != "":
		parts = append(parts, details.ChannelID)
	case details.GroupID != "":
		parts = append(parts, details.GroupID)
	}
	if details.CampaignID != "" {
		parts = append(parts, "campaign", details.CampaignID)
	}
	return strings.Join(parts, ":")
}

// NewTrafficSource returns the aggregate row created on first sight of a source.
func NewTrafficSource(source ClickSource, details SourceDetails) *TrafficSource {
	return &TrafficSource{
		SourceID:   DeriveSourceID(source, details),
		Source:     source,
		ChannelID:  details.ChannelID,
		GroupID:    details.GroupID,
		CampaignID: details.CampaignID,
	}
}
