package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/wa-template-sender/internal/kafka/producer"
	"github.com/example/wa-template-sender/internal/models"
)

// ErrNoProducer is returned by a StatusPublisher built without a producer.
var ErrNoProducer = errors.New("kafka publisher: producer not initialised")

// Producer is the write side of internal/kafka/producer.
type Producer interface {
	Publish(topic string, key, value []byte, headers ...producer.Header) error
}

// StatusPublisher turns send outcomes into JSON records keyed by message id.
type StatusPublisher struct {
	producer Producer
	topic    string
	logger   zerolog.Logger
}

// NewStatusPublisher returns nil when prod is nil.
func NewStatusPublisher(prod Producer, topic string, logger zerolog.Logger) *StatusPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &StatusPublisher{producer: prod, topic: topic, logger: logger}
}

// PublishStatus writes one event and waits for the broker acknowledgement.
// The event type is repeated as a header so consumers can filter without
// decoding the value.
func (p *StatusPublisher) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	if p == nil || p.producer == nil {
		return ErrNoProducer
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("kafka publisher: %w", err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}

	err = p.producer.Publish(p.topic, []byte(event.MessageID), value,
		producer.Header{Key: "content-type", Value: "application/json"},
		producer.Header{Key: "event-type", Value: event.EventType},
	)
	if err != nil {
		return fmt.Errorf("kafka publisher: publish status event: %w", err)
	}
	p.logger.Debug().
		Str("message_id", event.MessageID).
		Str("event_type", event.EventType).
		Str("topic", p.topic).
		Msg("status event published")
	return nil
}
