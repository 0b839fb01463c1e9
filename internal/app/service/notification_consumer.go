package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	natsclient "github.com/sifan077/PowerTrack/internal/infra/nats"
	"go.uber.org/zap"
)

const (
	notificationBatchSize  = 10
	notificationMaxDeliver = 5
	notificationAckWait    = 2 * time.Minute
)

// errMalformedIntent marks a message that can never be processed.
var errMalformedIntent = errors.New("malformed notification intent")

// NotificationConsumer consumes notification intents from NATS JetStream
// and hands them to the notifier.
type NotificationConsumer struct {
	js         nats.JetStreamContext
	logger     *zap.Logger
	dispatcher Dispatcher
	wg         sync.WaitGroup
}

// NewNotificationConsumer creates a new notification intent consumer.
func NewNotificationConsumer(js nats.JetStreamContext, log *zap.Logger, dispatcher Dispatcher) *NotificationConsumer {
	return &NotificationConsumer{
		js:         js,
		logger:     logger.OrNop(log).Named("notification_consumer"),
		dispatcher: dispatcher,
	}
}

// Start ensures the stream and durable consumer exist and begins consuming
// until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	if err := natsclient.EnsureStream(c.js, &nats.StreamConfig{
		Name:       model.NotificationStreamName,
		Subjects:   []string{model.NotificationStreamSubject},
		MaxBytes:   model.NotificationStreamMaxBytes,
		Duplicates: 10 * time.Minute,
	}); err != nil {
		return err
	}

	if err := natsclient.EnsureConsumer(c.js, model.NotificationStreamName, &nats.ConsumerConfig{
		Durable:    model.NotificationConsumerName,
		AckPolicy:  nats.AckExplicitPolicy,
		AckWait:    notificationAckWait,
		MaxDeliver: notificationMaxDeliver,
	}); err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(model.NotificationStreamSubject, model.NotificationConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.wg.Add(1)
	go c.consume(ctx, sub)
	return nil
}

// Wait blocks until the consume loop has exited.
func (c *NotificationConsumer) Wait() {
	c.wg.Wait()
}

func (c *NotificationConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer c.wg.Done()
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("notification consumer stopped")
			return
		}

		msgs, err := sub.Fetch(notificationBatchSize, nats.MaxWait(5*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("notification consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch messages", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *NotificationConsumer) handle(ctx context.Context, msg *nats.Msg) {
	err := c.process(ctx, msg.Data)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errMalformedIntent):
		c.logger.Error("dropping notification intent", zap.Error(err))
		_ = msg.Term()
	default:
		c.logger.Error("failed to dispatch notification intent", zap.Error(err))
		_ = msg.Nak()
	}
}

func (c *NotificationConsumer) process(ctx context.Context, data []byte) error {
	var intent model.NotificationIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return fmt.Errorf("%w: %v", errMalformedIntent, err)
	}
	if intent.Event == "" {
		return fmt.Errorf("%w: missing event", errMalformedIntent)
	}

	if err := c.dispatcher.Dispatch(ctx, intent); err != nil {
		return fmt.Errorf("dispatch %s for %s: %w", intent.Event, intent.ConversionID, err)
	}

	c.logger.Debug("notification intent dispatched",
		zap.String("id", intent.ID),
		zap.String("event", intent.Event),
		logger.ConversionID(intent.ConversionID),
	)
	return nil
}
