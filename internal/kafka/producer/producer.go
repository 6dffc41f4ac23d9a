package producer

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Header is a single Kafka record header.
type Header struct {
	Key   string
	Value string
}

// Producer writes records synchronously. The sender emits one status event
// per run so there is no async path.
type Producer struct {
	logger zerolog.Logger
	client sarama.Client
	sync   sarama.SyncProducer
}

// New dials the brokers and returns a producer that waits for all in-sync
// replicas on every write.
func New(brokers []string, clientID string, logger zerolog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	client, err := sarama.NewClient(brokers, statusConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := wrap(sp, logger)
	p.client = client
	p.logger.Debug().Strs("brokers", brokers).Str("client_id", clientID).Msg("kafka producer connected")
	return p, nil
}

// NewFromSyncProducer wraps an existing sync producer, e.g. sarama/mocks.
func NewFromSyncProducer(sp sarama.SyncProducer, logger zerolog.Logger) (*Producer, error) {
	if sp == nil {
		return nil, errors.New("kafka producer: sync producer is required")
	}
	return wrap(sp, logger), nil
}

func wrap(sp sarama.SyncProducer, logger zerolog.Logger) *Producer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Producer{logger: logger, sync: sp}
}

// Publish writes value to topic and blocks until the broker acknowledges it.
func (p *Producer) Publish(topic string, key, value []byte, headers ...Header) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: []byte(h.Value)})
	}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka producer: send: %w", err)
	}
	p.logger.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka record acknowledged")
	return nil
}

// Close releases the producer and, when New created it, the client.
func (p *Producer) Close() error {
	err := p.sync.Close()
	if p.client != nil && !p.client.Closed() {
		err = errors.Join(err, p.client.Close())
	}
	return err
}

func statusConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 10 * time.Second
	cfg.Producer.Retry.Max = 1
	cfg.Net.DialTimeout = 5 * time.Second
	cfg.Metadata.Retry.Max = 1
	return cfg
}
