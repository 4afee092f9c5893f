package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljoseph18/flui-backend/broker"
)

// These tests expect a running relay on :8081 whose upstream is the mock
// provider in ./backend, e.g.
//
//	go run ./backend &
//	OPENAI_API_KEY=sk-test RELAY_UPSTREAM_URL=ws://localhost:9001/v1/realtime go run .
const (
	relayHost   = "localhost:8081"
	testTimeout = 15 * time.Second
)

func requireIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}
}

func dialRelay(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: relayHost, Path: path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err, "Failed to connect to relay")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	return conn
}

func TestE2EMessageFlow(t *testing.T) {
	requireIntegration(t)

	conn := dialRelay(t, "/")
	defer conn.Close()

	// Sent before the provider handshake can finish; must be buffered.
	testMessage := fmt.Sprintf("hello from integration test at %s", time.Now())
	early := map[string]string{"type": "conversation.item.create", "text": testMessage}
	require.NoError(t, conn.WriteJSON(early))

	var created map[string]any
	require.NoError(t, conn.ReadJSON(&created))
	assert.Equal(t, "session.created", created["type"])

	late := map[string]string{"type": "response.create"}
	require.NoError(t, conn.WriteJSON(late))

	var echoes []string
	for len(echoes) < 2 {
		var reply struct {
			Type  string          `json:"type"`
			Event json.RawMessage `json:"event"`
		}
		require.NoError(t, conn.ReadJSON(&reply))
		require.Equal(t, "mock.echo", reply.Type)

		var inner map[string]string
		require.NoError(t, json.Unmarshal(reply.Event, &inner))
		echoes = append(echoes, inner["type"])
		if inner["type"] == early["type"] {
			assert.Equal(t, testMessage, inner["text"], "payload must pass through unmodified")
		}
	}
	assert.Equal(t, []string{"conversation.item.create", "response.create"}, echoes)
}

func TestE2EInvalidPathIsRejected(t *testing.T) {
	requireIntegration(t)

	conn := dialRelay(t, "/not-the-relay")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

// Runs only when the relay publishes lifecycle events to Redis
// (RELAY_BROKER_TYPE=redis).
func TestE2ESessionEventsPublished(t *testing.T) {
	requireIntegration(t)
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		t.Skip("Skipping: set REDIS_ADDRESS to check session events")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	require.NoError(t, redisClient.Ping(ctx).Err(), "Failed to connect to Redis")
	defer redisClient.Close()

	pubsub := redisClient.Subscribe(ctx, "relay:sessions")
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	conn := dialRelay(t, "/")
	var created map[string]any
	require.NoError(t, conn.ReadJSON(&created))
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	var events []string
	for len(events) < 2 {
		select {
		case msg := <-pubsub.Channel():
			var event broker.Message
			require.NoError(t, event.UnmarshalBinary([]byte(msg.Payload)))
			events = append(events, event.Event)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for session events, got %v", events)
		}
	}
	assert.ElementsMatch(t, []string{broker.EventSessionOpened, broker.EventSessionClosed}, events)
}
