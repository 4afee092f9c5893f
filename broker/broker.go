// Package broker publishes relay session lifecycle notifications. Relayed
// event payloads are never published.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/config"
)

// Lifecycle event names.
const (
	EventSessionOpened = "session.opened"
	EventSessionClosed = "session.closed"
)

// Message is one lifecycle notification.
type Message struct {
	SessionID string    `json:"session_id"`
	ServerID  string    `json:"server_id"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// MarshalBinary implements the encoding.BinaryMarshaler interface for Redis.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface for Redis.
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

// Publisher sends lifecycle notifications somewhere.
type Publisher interface {
	Publish(ctx context.Context, message Message) error
	// Type is used as a metrics label.
	Type() string
	Close() error
}

// New builds the publisher selected by cfg.Type. redisClient may be nil
// unless the type is "redis".
func New(cfg config.BrokerConfig, redisClient *redis.Client, log *zap.SugaredLogger) (Publisher, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return NoopPublisher{}, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis broker requires a redis client")
		}
		return NewRedisBroker(redisClient, cfg.Channel), nil
	case "kafka":
		return NewKafkaBroker(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	default:
		return nil, fmt.Errorf("invalid broker type: %s", cfg.Type)
	}
}

// NoopPublisher discards every message.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Message) error { return nil }
func (NoopPublisher) Type() string                           { return "none" }
func (NoopPublisher) Close() error                           { return nil }
