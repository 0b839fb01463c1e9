package service

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

// SettlementFeed receives conversion lifecycle events for downstream payout.
type SettlementFeed interface {
	Send(ctx context.Context, key string, value any) error
}

// SettlementEvent is the message published for every lifecycle change.
type SettlementEvent struct {
	Event          string                 `json:"event"`
	ConversionID   string                 `json:"conversionId"`
	OrderID        string                 `json:"orderId"`
	ClickID        string                 `json:"clickId"`
	UserID         string                 `json:"userId"`
	StoreID        string                 `json:"storeId"`
	SourceID       string                 `json:"sourceId"`
	Status         model.ProcessingStatus `json:"status"`
	OrderValue     float64                `json:"orderValue"`
	RefundedAmount float64                `json:"refundedAmount"`
	Currency       string                 `json:"currency"`
	Commission     float64                `json:"commission"`
	CommissionRate float64                `json:"commissionRate"`
	OccurredAt     time.Time              `json:"occurredAt"`
}

func newSettlementEvent(event string, conv *model.ConversionEvent, at time.Time) SettlementEvent {
	return SettlementEvent{
		Event:          event,
		ConversionID:   conv.ID,
		OrderID:        conv.OrderID,
		ClickID:        conv.ClickID,
		UserID:         conv.UserID,
		StoreID:        conv.StoreID,
		SourceID:       conv.SourceID,
		Status:         conv.ProcessingStatus,
		OrderValue:     conv.OrderValue,
		RefundedAmount: conv.RefundedAmount,
		Currency:       conv.Currency,
		Commission:     conv.Commission,
		CommissionRate: conv.CommissionRate,
		OccurredAt:     at,
	}
}
