package model

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// Webhook event names.
const (
	EventConversionCreated   = "conversion_created"
	EventConversionConfirmed = "conversion_confirmed"
	EventConversionCancelled = "conversion_cancelled"
	EventConversionRefunded  = "conversion_refunded"
	EventFraudDetected       = "conversion_fraud_detected"
	EventUserNotification    = "user_notification"
)

const (
	NotificationStreamName     = "NOTIFICATIONS"
	NotificationStreamSubject  = "notifications.intents"
	NotificationConsumerName   = "notifier"
	NotificationStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// TrackingPixel is a store-registered outbound tracker fired on conversion.
// URLTemplate placeholders use the {name} form, e.g. {orderId}.
type TrackingPixel struct {
	ID           string            `json:"id" gorm:"primaryKey;size:64"`
	StoreID      string            `json:"storeId" gorm:"size:64;not null;index"`
	Name         string            `json:"name" gorm:"size:255"`
	URLTemplate  string            `json:"urlTemplate" gorm:"type:text;not null"`
	Method       string            `json:"method" gorm:"size:8;not null;default:GET"`
	Parameters   map[string]string `json:"parameters,omitempty" gorm:"type:jsonb;serializer:json"`
	IsActive     bool              `json:"isActive" gorm:"not null;default:true"`
	FireCount    int64             `json:"fireCount" gorm:"not null;default:0"`
	FailureCount int64             `json:"failureCount" gorm:"not null;default:0"`
	LastFiredAt  *time.Time        `json:"lastFiredAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time         `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (TrackingPixel) TableName() string {
	return "tracking_pixels"
}

// WebhookSubscription is a partner endpoint subscribed to one or more events.
type WebhookSubscription struct {
	ID             string            `json:"id" gorm:"primaryKey;size:64"`
	Name           string            `json:"name" gorm:"size:255"`
	URL            string            `json:"url" gorm:"type:text;not null"`
	Events         []string          `json:"events" gorm:"type:jsonb;serializer:json"`
	Method         string            `json:"method" gorm:"size:8;not null;default:POST"`
	Headers        map[string]string `json:"headers,omitempty" gorm:"type:jsonb;serializer:json"`
	TimeoutSeconds int               `json:"timeoutSeconds" gorm:"not null;default:10"`
	Secret         string            `json:"-" gorm:"size:128"`
	IsActive       bool              `json:"isActive" gorm:"not null;default:true"`
	SuccessCount   int64             `json:"successCount" gorm:"not null;default:0"`
	FailureCount   int64             `json:"failureCount" gorm:"not null;default:0"`
	LastDeliveryAt *time.Time        `json:"lastDeliveryAt,omitempty"`
	LastError      string            `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt      time.Time         `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// Subscribed reports whether the subscription listens for event.
func (w *WebhookSubscription) Subscribed(event string) bool {
	return slices.Contains(w.Events, event) || slices.Contains(w.Events, "*")
}

// HTTPMethod returns the configured method, defaulting to POST.
func (w *WebhookSubscription) HTTPMethod() string {
	if w.Method == "" {
		return http.MethodPost
	}
	return w.Method
}

// WebhookDeadLetter keeps a delivery that exhausted its retries for operator follow-up.
type WebhookDeadLetter struct {
	ID             string          `json:"id" gorm:"primaryKey;size:64"`
	SubscriptionID string          `json:"subscriptionId" gorm:"size:64;index"`
	URL            string          `json:"url" gorm:"type:text;not null"`
	Event          string          `json:"event" gorm:"size:64;not null"`
	Payload        json.RawMessage `json:"payload" gorm:"type:jsonb"`
	Attempts       int             `json:"attempts" gorm:"not null"`
	LastError      string          `json:"lastError" gorm:"type:text"`
	CreatedAt      time.Time       `json:"createdAt" gorm:"autoCreateTime"`
}

func (WebhookDeadLetter) TableName() string {
	return "webhook_dead_letters"
}

// NotificationIntent is the queued unit of outbound work produced by the
// conversion pipeline.
type NotificationIntent struct {
	ID            string            `json:"id"`
	Event         string            `json:"event"`
	ConversionID  string            `json:"conversionId"`
	OrderID       string            `json:"orderId"`
	ClickID       string            `json:"clickId"`
	UserID        string            `json:"userId"`
	StoreID       string            `json:"storeId"`
	OrderValue    float64           `json:"orderValue"`
	Currency      string            `json:"currency"`
	Commission    float64           `json:"commission"`
	Status        ProcessingStatus  `json:"status"`
	UserTags      []string          `json:"userTags,omitempty"`
	RuleWebhooks  []string          `json:"ruleWebhooks,omitempty"`
	Notifications []string          `json:"notifications,omitempty"`
	CustomParams  map[string]string `json:"customParams,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// NewNotificationIntent snapshots a conversion for outbound delivery.
func NewNotificationIntent(id, event string, conv *ConversionEvent, at time.Time) NotificationIntent {
	return NotificationIntent{
		ID:           id,
		Event:        event,
		ConversionID: conv.ID,
		OrderID:      conv.OrderID,
		ClickID:      conv.ClickID,
		UserID:       conv.UserID,
		StoreID:      conv.StoreID,
		OrderValue:   conv.OrderValue,
		Currency:     conv.Currency,
		Commission:   conv.Commission,
		Status:       conv.ProcessingStatus,
		UserTags:     conv.UserTags,
		OccurredAt:   at,
	}
}
