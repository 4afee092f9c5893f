package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/metrics"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
)

// ErrBrokerClosed is returned by Publish after Close.
var ErrBrokerClosed = errors.New("broker is closed")

// KafkaBroker publishes lifecycle messages to a Kafka topic.
type KafkaBroker struct {
	topic    string
	producer sarama.SyncProducer
	log      *zap.SugaredLogger
	mu       sync.RWMutex
	closed   bool
}

// NewKafkaBroker creates a Kafka-backed publisher.
func NewKafkaBroker(brokers []string, topic string, log *zap.SugaredLogger) (*KafkaBroker, error) {
	producer, err := sarama.NewSyncProducer(brokers, newKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaBrokerWithProducer(producer, topic, log), nil
}

func newKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Version = sarama.V2_8_0_0
	return config
}

func newKafkaBrokerWithProducer(producer sarama.SyncProducer, topic string, log *zap.SugaredLogger) *KafkaBroker {
	return &KafkaBroker{
		topic:    topic,
		producer: producer,
		log:      log,
	}
}

// Publish sends a message to the topic with retry capability. The session
// ID is the partition key, so a session's notifications stay ordered.
func (b *KafkaBroker) Publish(ctx context.Context, message Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(message.SessionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(message.Event)},
		},
		Timestamp: message.At,
	}

	operation := func() error {
		_, _, err := b.producer.SendMessage(kafkaMsg)
		return err
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		metrics.BrokerPublishRetries.WithLabelValues(b.Type()).Inc()
		b.log.Warnf("Retrying Kafka publish for %s: %v (next attempt in %s)", message.SessionID, err, d)
	})
}

func (b *KafkaBroker) Type() string { return "kafka" }

// Close releases the producer. Calling it twice is harmless.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
