package model

import "time"

// ProcessingStatus tracks a conversion through review and settlement.
type ProcessingStatus string

const (
	StatusPending       ProcessingStatus = "pending"
	StatusConfirmed     ProcessingStatus = "confirmed"
	StatusFraudDetected ProcessingStatus = "fraud_detected"
	StatusCancelled     ProcessingStatus = "cancelled"
	StatusRefunded      ProcessingStatus = "refunded"
)

// Product is one line item reported by the merchant.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type CustomerInfo struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

// ConversionEvent is a merchant-reported purchase linked to exactly one click.
type ConversionEvent struct {
	ID               string           `json:"id" gorm:"primaryKey;size:64"`
	ClickID          string           `json:"clickId" gorm:"size:64;not null;index"`
	OrderID          string           `json:"orderId" gorm:"size:128;not null;uniqueIndex"`
	UserID           string           `json:"userId" gorm:"size:64;not null;index:idx_conversion_user_time,priority:1"`
	StoreID          string           `json:"storeId" gorm:"size:64;not null;index:idx_conversion_store_time,priority:1"`
	StoreName        string           `json:"storeName" gorm:"size:255"`
	SessionID        string           `json:"sessionId" gorm:"size:64"`
	SourceID         string           `json:"sourceId" gorm:"size:255;index"`
	OrderValue       float64          `json:"orderValue" gorm:"not null"`
	Currency         string           `json:"currency" gorm:"size:8;not null"`
	Commission       float64          `json:"commission" gorm:"not null;default:0"`
	CommissionRate   float64          `json:"commissionRate" gorm:"not null;default:0"`
	Products         []Product        `json:"products" gorm:"type:jsonb;serializer:json"`
	CustomerInfo     CustomerInfo     `json:"customerInfo" gorm:"type:jsonb;serializer:json"`
	Metadata         map[string]any   `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`
	AppliedRules     []string         `json:"appliedRules" gorm:"type:jsonb;serializer:json"`
	UserTags         []string         `json:"userTags,omitempty" gorm:"type:jsonb;serializer:json"`
	ProcessingStatus ProcessingStatus `json:"processingStatus" gorm:"size:32;not null;index"`
	StatusReason     string           `json:"statusReason,omitempty" gorm:"type:text"`
	RefundedAmount   float64          `json:"refundedAmount" gorm:"not null;default:0"`
	ConvertedAt      time.Time        `json:"convertedAt" gorm:"not null;index:idx_conversion_user_time,priority:2;index:idx_conversion_store_time,priority:2"`
	ConfirmedAt      *time.Time       `json:"confirmedAt,omitempty"`
	CancelledAt      *time.Time       `json:"cancelledAt,omitempty"`
	RefundedAt       *time.Time       `json:"refundedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time        `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ConversionEvent) TableName() string {
	return "conversion_events"
}

// Categories returns the distinct product categories in order of first appearance.
func (c *ConversionEvent) Categories() []string {
	return ProductCategories(c.Products)
}

// ProductCategories returns the distinct non-empty categories of products.
func ProductCategories(products []Product) []string {
	seen := make(map[string]struct{}, len(products))
	out := make([]string, 0, len(products))
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	return out
}
