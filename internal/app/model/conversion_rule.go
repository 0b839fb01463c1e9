package model

import (
	"encoding/json"
	"time"
)

// Condition fields understood by the rule engine. Any other field name is
// looked up in the conversion metadata.
const (
	FieldOrderValue      = "orderValue"
	FieldProductCategory = "productCategory"
	FieldStoreID         = "storeId"
	FieldCurrency        = "currency"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// RuleCondition is one predicate of a rule. LogicalOperator joins this
// condition's successor to the running result.
type RuleCondition struct {
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
}

type ActionType string

const (
	ActionSetCommissionRate ActionType = "set_commission_rate"
	ActionAddBonus          ActionType = "add_bonus"
	ActionTagUser           ActionType = "tag_user"
	ActionTriggerWebhook    ActionType = "trigger_webhook"
	ActionSendNotification  ActionType = "send_notification"
)

// RuleAction is the stored form of an action; parameters are decoded into a
// typed variant by the rule engine.
type RuleAction struct {
	Type       ActionType      `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ConversionRule adjusts commission or triggers side effects when its
// conditions match a conversion.
type ConversionRule struct {
	ID          string          `json:"id" gorm:"primaryKey;size:64"`
	Name        string          `json:"name" gorm:"size:255;not null"`
	Description string          `json:"description,omitempty" gorm:"type:text"`
	StoreID     string          `json:"storeId,omitempty" gorm:"size:64;index"`
	Category    string          `json:"category,omitempty" gorm:"size:128"`
	Priority    int             `json:"priority" gorm:"not null;default:0"`
	IsActive    bool            `json:"isActive" gorm:"not null;default:true;index"`
	Conditions  []RuleCondition `json:"conditions" gorm:"type:jsonb;serializer:json"`
	Actions     []RuleAction    `json:"actions" gorm:"type:jsonb;serializer:json"`
	UsageCount  int64           `json:"usageCount" gorm:"not null;default:0"`
	LastUsedAt  *time.Time      `json:"lastUsedAt,omitempty"`
	ValidFrom   *time.Time      `json:"validFrom,omitempty"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ConversionRule) TableName() string {
	return "conversion_rules"
}
