// Package kafka publishes position lifecycle events to a Kafka topic for
// downstream audit consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Config configures the publisher.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per position event, keyed by instrument so
// a consumer sees each instrument's events in order.
type Publisher struct {
	w      messageWriter
	source string
}

// New creates a Publisher. source identifies this process in the message
// headers.
func New(cfg Config, source string) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Publisher{w: w, source: source}, nil
}

func newWithWriter(w messageWriter, source string) *Publisher {
	return &Publisher{w: w, source: source}
}

// HandlePositionEvent publishes ev. It satisfies lifecycle.EventHandler.
func (p *Publisher) HandlePositionEvent(ctx context.Context, ev domain.PositionEvent) error {
	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s %s: %w", ev.Type, ev.Position.ID, err)
	}
	return nil
}

func (p *Publisher) message(ev domain.PositionEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal %s: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.Position.Instrument),
		Value: body,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "position_id", Value: []byte(ev.Position.ID)},
			{Key: "source", Value: []byte(p.source)},
		},
	}, nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
