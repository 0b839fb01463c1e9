package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sifan077/PowerTrack/config"
	"go.uber.org/zap"
)

// Producer publishes keyed JSON messages to a single topic.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewProducer builds a synchronous producer for the settlement feed.
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "powertrack"
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = cfg.Retries
	sc.Producer.Timeout = cfg.Timeout
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Idempotent = cfg.IdempotentWrites

	if cfg.IdempotentWrites {
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Producer.Retry.Max = 5
		sc.Net.MaxOpenRequests = 1
	}

	switch cfg.Compression {
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	if cfg.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	// Keying by order id keeps every lifecycle event of a conversion on one partition.
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V3_3_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("idempotent", cfg.IdempotentWrites),
		zap.String("compression", cfg.Compression),
	)

	return &Producer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
	}, nil
}

// Send marshals value as JSON and publishes it under key.
func (p *Producer) Send(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: marshal value: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("produced_at"),
				Value: []byte(time.Now().UTC().Format(time.RFC3339Nano)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka: send to %s: %w", p.topic, err)
	}

	p.logger.Debug("Message sent to Kafka",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("key", key),
	)

	return nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("kafka: close producer: %w", err)
	}
	p.logger.Info("Kafka producer closed")
	return nil
}
