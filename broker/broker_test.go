package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/config"
)

func testMessage() Message {
	return Message{
		SessionID: "s1",
		ServerID:  "relay-1",
		Event:     EventSessionOpened,
		At:        time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNew_SelectsPublisher(t *testing.T) {
	p, err := New(config.BrokerConfig{Type: "none"}, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, "none", p.Type())
	assert.NoError(t, p.Publish(context.Background(), testMessage()))
	assert.NoError(t, p.Close())

	_, err = New(config.BrokerConfig{Type: "redis"}, nil, zap.NewNop().Sugar())
	assert.Error(t, err, "redis broker without a client")

	_, err = New(config.BrokerConfig{Type: "nats"}, nil, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestMessage_MarshalBinary(t *testing.T) {
	data, err := testMessage().MarshalBinary()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s1", decoded["session_id"])
	assert.Equal(t, EventSessionOpened, decoded["event"])
	assert.NotContains(t, decoded, "reason")
}

func TestKafkaBroker_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newKafkaConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.SessionID != "s1" {
			return errors.New("unexpected session id")
		}
		return nil
	})

	b := newKafkaBrokerWithProducer(producer, "relay-sessions", zap.NewNop().Sugar())
	require.NoError(t, b.Publish(context.Background(), testMessage()))
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), testMessage()), ErrBrokerClosed)
}

func TestKafkaBroker_PublishRetries(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newKafkaConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	producer.ExpectSendMessageAndSucceed()

	b := newKafkaBrokerWithProducer(producer, "relay-sessions", zap.NewNop().Sugar())
	defer b.Close()

	assert.NoError(t, b.Publish(context.Background(), testMessage()))
}
