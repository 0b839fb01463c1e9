package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerTrack/config"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("powertrack"),
		nats.MaxReconnects(-1),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(buildURL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureStream creates the stream when it does not exist yet.
func EnsureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	_, err := js.StreamInfo(cfg.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats: stream info %s: %w", cfg.Name, err)
	}
	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("nats: add stream %s: %w", cfg.Name, err)
	}
	return nil
}

// EnsureConsumer creates the durable pull consumer when it does not exist yet.
func EnsureConsumer(js nats.JetStreamContext, stream string, cfg *nats.ConsumerConfig) error {
	_, err := js.ConsumerInfo(stream, cfg.Durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("nats: consumer info %s: %w", cfg.Durable, err)
	}
	if _, err := js.AddConsumer(stream, cfg); err != nil {
		return fmt.Errorf("nats: add consumer %s: %w", cfg.Durable, err)
	}
	return nil
}

func buildURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
