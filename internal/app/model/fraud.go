package model

import "time"

type FraudIndicator string

const (
	IndicatorExcessiveConversions FraudIndicator = "excessive_conversions_24h"
	IndicatorFastConversion       FraudIndicator = "suspiciously_fast_conversion"
	IndicatorHighOrderValue       FraudIndicator = "unusually_high_order_value"
	IndicatorBotUserAgent         FraudIndicator = "bot_user_agent"
	IndicatorHighRiskIP           FraudIndicator = "high_risk_ip"
)

type FraudStatus string

const (
	FraudPending   FraudStatus = "pending"
	FraudConfirmed FraudStatus = "confirmed_fraud"
	FraudCleared   FraudStatus = "cleared"
)

// ConversionFraud records the risk assessment of a conversion with at least one indicator.
type ConversionFraud struct {
	ID              string           `json:"id" gorm:"primaryKey;size:64"`
	ConversionID    string           `json:"conversionId" gorm:"size:64;not null;uniqueIndex"`
	OrderID         string           `json:"orderId" gorm:"size:128;not null"`
	UserID          string           `json:"userId" gorm:"size:64;not null;index"`
	RiskScore       int              `json:"riskScore" gorm:"not null"`
	FraudIndicators []FraudIndicator `json:"fraudIndicators" gorm:"type:jsonb;serializer:json"`
	Status          FraudStatus      `json:"status" gorm:"size:32;not null;index"`
	ReviewedAt      *time.Time       `json:"reviewedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time        `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ConversionFraud) TableName() string {
	return "conversion_frauds"
}
