package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"go.uber.org/zap"
)

// JetStreamPublisher is the subset of nats.JetStreamContext used for publishing.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NotificationPublisher publishes notification intents to NATS JetStream.
type NotificationPublisher struct {
	js JetStreamPublisher
}

// NewNotificationPublisher creates a new notification intent publisher.
func NewNotificationPublisher(js JetStreamPublisher) *NotificationPublisher {
	return &NotificationPublisher{js: js}
}

// Publish enqueues an intent. The intent id doubles as the JetStream message
// id so a retried publish is de-duplicated by the stream.
func (p *NotificationPublisher) Publish(ctx context.Context, intent model.NotificationIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal notification intent: %w", err)
	}

	_, err = p.js.Publish(model.NotificationStreamSubject, data, nats.Context(ctx), nats.MsgId(intent.ID))
	return err
}

// Dispatcher delivers a notification intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent model.NotificationIntent) error
}

// InlineQueue dispatches intents on a background goroutine without a broker.
// It serves single-process deployments where NATS is not configured.
type InlineQueue struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewInlineQueue(dispatcher Dispatcher, log *zap.Logger) *InlineQueue {
	return &InlineQueue{dispatcher: dispatcher, logger: logger.OrNop(log).Named("inline_queue")}
}

func (q *InlineQueue) Publish(ctx context.Context, intent model.NotificationIntent) error {
	go func() {
		if err := q.dispatcher.Dispatch(context.WithoutCancel(ctx), intent); err != nil {
			q.logger.Error("notification dispatch failed",
				zap.String("intent_id", intent.ID),
				zap.String("event", intent.Event),
				zap.Error(err),
			)
		}
	}()
	return nil
}
