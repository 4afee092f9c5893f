package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingCredential is fatal at startup: the relay cannot reach the
// provider without it.
var ErrMissingCredential = errors.New("upstream credential is required (set OPENAI_API_KEY)")

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Upstream.Credential) == "" {
		return ErrMissingCredential
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/': %q", c.Server.Path)
	}
	if c.Upstream.URL == "" {
		return errors.New("upstream.url must be set")
	}
	if c.Upstream.ConnectTimeout < 0 {
		return errors.New("upstream.connectTimeout must not be negative")
	}
	if c.WebSocket.MaxPending < 0 {
		return errors.New("websocket.maxPending must not be negative")
	}
	if c.WebSocket.PingInterval > 0 && c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		return errors.New("ping interval should be less than pong timeout")
	}

	// Validate auth config
	if c.Auth.Enabled || c.API.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth or the API is enabled")
		}
	}
	if c.Auth.Enabled && c.Auth.TokenQueryParam == "" {
		return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
	}
	switch strings.ToLower(c.Auth.UserStore) {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid user store: %s. Must be 'memory' or 'redis'", c.Auth.UserStore)
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		return errors.New("invalid api port")
	}

	switch strings.ToLower(c.SessionStore.Type) {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid session store type: %s. Must be 'memory' or 'redis'", c.SessionStore.Type)
	}

	// Validate broker configuration
	switch strings.ToLower(c.Broker.Type) {
	case "none":
	case "redis":
		if c.Broker.Channel == "" {
			return errors.New("broker.channel must be configured for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.Topic == "" {
			return errors.New("kafka topic must be specified for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'none', 'redis' or 'kafka'", c.Broker.Type)
	}

	if c.UsesRedis() && c.Redis.Address == "" {
		return errors.New("redis address must be specified")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("invalid metrics port")
	}
	return nil
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		// Server
		"server.port": {"REALTIME_WS_PORT", "RELAY_PORT"},
		"server.path": {"RELAY_PATH"},

		// Upstream
		"upstream.credential":     {"OPENAI_API_KEY", "RELAY_UPSTREAM_CREDENTIAL"},
		"upstream.url":            {"RELAY_UPSTREAM_URL"},
		"upstream.model":          {"RELAY_UPSTREAM_MODEL"},
		"upstream.connectTimeout": {"RELAY_UPSTREAM_CONNECT_TIMEOUT"},

		// WebSocket
		"websocket.maxPending":   {"RELAY_MAX_PENDING"},
		"websocket.pingInterval": {"RELAY_PING_INTERVAL"},
		"websocket.pongTimeout":  {"RELAY_PONG_TIMEOUT"},

		// Auth
		"auth.enabled":           {"RELAY_AUTH_ENABLED"},
		"auth.jwtSecret":         {"JWT_SECRET", "RELAY_AUTH_JWT_SECRET"},
		"auth.tokenQueryParam":   {"RELAY_AUTH_TOKEN_PARAM"},
		"auth.revocationListKey": {"RELAY_AUTH_REVOCATION_KEY"},
		"auth.userStore":         {"RELAY_AUTH_USER_STORE"},

		// API
		"api.enabled": {"RELAY_API_ENABLED"},
		"api.port":    {"RELAY_API_PORT"},

		// Stores and broker
		"sessionStore.type":    {"RELAY_SESSION_STORE"},
		"redis.address":        {"RELAY_REDIS_ADDRESS"},
		"redis.password":       {"RELAY_REDIS_PASSWORD"},
		"broker.type":          {"RELAY_BROKER_TYPE"},
		"broker.channel":       {"RELAY_BROKER_CHANNEL"},
		"broker.kafka.brokers": {"RELAY_KAFKA_BROKERS"},
		"broker.kafka.topic":   {"RELAY_KAFKA_TOPIC"},

		// Observability
		"metrics.enabled": {"RELAY_METRICS_ENABLED"},
		"metrics.port":    {"RELAY_METRICS_PORT"},
		"log.level":       {"RELAY_LOG_LEVEL"},
		"log.format":      {"RELAY_LOG_FORMAT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}
