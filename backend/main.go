// Command backend is a stand-in for the realtime provider, used for local
// runs and the integration tests. Point the relay at it with
// RELAY_UPSTREAM_URL=ws://localhost:9001/v1/realtime.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/auth"
	"github.com/danieljoseph18/flui-backend/broker"
	"github.com/danieljoseph18/flui-backend/upstream"
)

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

type mockProvider struct {
	apiKey   string
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

func (p *mockProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if auth.BearerToken(r) != p.apiKey {
		p.log.Warnf("Rejected provider connection from %s: bad API key", r.RemoteAddr)
		http.Error(w, `{"error":"invalid_api_key"}`, http.StatusUnauthorized)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warnf("Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	p.log.Infof("Relay connected from %s (model %q)", r.RemoteAddr, r.URL.Query().Get("model"))

	created, _ := json.Marshal(map[string]any{
		"type":    "session.created",
		"session": map[string]string{"model": r.URL.Query().Get("model")},
	})
	if err := conn.WriteMessage(websocket.TextMessage, created); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.log.Infof("Relay disconnected: %v", err)
			return
		}
		eventType, err := upstream.DecodeType(data)
		if err != nil {
			p.log.Warnf("Dropping malformed event: %v", err)
			continue
		}
		p.log.Infof("Received %q, echoing", eventType)

		// --- ECHO LOGIC ---
		reply, _ := json.Marshal(map[string]any{
			"type":  "mock.echo",
			"event": json.RawMessage(data),
		})
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// watchSessions logs the relay's session lifecycle notifications.
func watchSessions(ctx context.Context, rdb *redis.Client, channel string, log *zap.SugaredLogger) {
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Infof("Watching %s for session events", channel)
	for msg := range pubsub.Channel() {
		var event broker.Message
		if err := event.UnmarshalBinary([]byte(msg.Payload)); err != nil {
			log.Warnf("Error decoding session event: %v", err)
			continue
		}
		log.Infof("Session %s %s on relay %s %s", event.SessionID, event.Event, event.ServerID, event.Reason)
	}
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisAddr := getEnv("REDIS_ADDRESS", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		go watchSessions(ctx, rdb, getEnv("SESSION_CHANNEL", "relay:sessions"), log)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/realtime", &mockProvider{
		apiKey: getEnv("MOCK_API_KEY", "sk-test"),
		log:    log,
	})
	srv := &http.Server{Addr: getEnv("MOCK_ADDR", ":9001"), Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Infof("Mock realtime provider listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Mock provider failed: %v", err)
	}
}
