package model

import (
	"strings"
	"time"
)

// ClickSource identifies the surface a tracked link was clicked from.
type ClickSource string

const (
	SourcePersonalChannel  ClickSource = "personal_channel"
	SourceGroup            ClickSource = "group"
	SourceAIRecommendation ClickSource = "ai_recommendation"
	SourceSearch           ClickSource = "search"
	SourceNotification     ClickSource = "notification"
)

// Valid reports whether s is one of the known click sources.
func (s ClickSource) Valid() bool {
	switch s {
	case SourcePersonalChannel, SourceGroup, SourceAIRecommendation, SourceSearch, SourceNotification:
		return true
	}
	return false
}

// SourceDetails carries free-form correlation keys for the click origin.
type SourceDetails struct {
	ChannelID  string `json:"channelId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	CampaignID string `json:"campaignId,omitempty"`
}

// ClickEvent is an immutable record of one tracked click.
type ClickEvent struct {
	ClickID         string            `json:"clickId" gorm:"primaryKey;size:64"`
	UserID          string            `json:"userId" gorm:"size:64;not null;index:idx_click_user_time,priority:1"`
	TelegramUserID  string            `json:"telegramUserId,omitempty" gorm:"size:64"`
	SessionID       string            `json:"sessionId" gorm:"size:64;not null;index"`
	StoreID         string            `json:"storeId" gorm:"size:64;not null;index"`
	StoreName       string            `json:"storeName" gorm:"size:255"`
	SourceID        string            `json:"sourceId" gorm:"size:255;not null;index"`
	Source          ClickSource       `json:"source" gorm:"size:32;not null"`
	SourceDetails   SourceDetails     `json:"sourceDetails" gorm:"type:jsonb;serializer:json"`
	OriginalURL     string            `json:"originalUrl" gorm:"type:text"`
	DestinationURL  string            `json:"destinationUrl" gorm:"type:text"`
	AffiliateLinkID string            `json:"affiliateLinkId,omitempty" gorm:"size:64"`
	CouponID        string            `json:"couponId,omitempty" gorm:"size:64"`
	UserAgent       string            `json:"userAgent,omitempty" gorm:"type:text"`
	IPAddress       string            `json:"ipAddress,omitempty" gorm:"size:64"`
	Referrer        string            `json:"referrer,omitempty" gorm:"type:text"`
	DeviceInfo      map[string]string `json:"deviceInfo,omitempty" gorm:"type:jsonb;serializer:json"`
	GeoLocation     map[string]string `json:"geoLocation,omitempty" gorm:"type:jsonb;serializer:json"`
	UTMParams       map[string]string `json:"utmParams,omitempty" gorm:"type:jsonb;serializer:json"`
	Metadata        map[string]any    `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	ClickedAt       time.Time         `json:"clickedAt" gorm:"not null;index:idx_click_user_time,priority:2"`
}

func (ClickEvent) TableName() string {
	return "click_events"
}

// RedirectTarget returns the URL a click should land on.
func (c *ClickEvent) RedirectTarget() string {
	if strings.TrimSpace(c.DestinationURL) != "" {
		return c.DestinationURL
	}
	return c.OriginalURL
}
