package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort          = 8081
	DefaultPath          = "/"
	DefaultUpstreamURL   = "wss://api.openai.com/v1/realtime"
	DefaultUpstreamModel = "gpt-4o-realtime-preview-2024-10-01"
)

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.path", DefaultPath)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 15*time.Second)

	// Upstream
	v.SetDefault("upstream.url", DefaultUpstreamURL)
	v.SetDefault("upstream.model", DefaultUpstreamModel)
	v.SetDefault("upstream.connectTimeout", 30*time.Second)
	v.SetDefault("upstream.handshakeTimeout", 15*time.Second)
	v.SetDefault("upstream.writeTimeout", 10*time.Second)

	// WebSocket
	v.SetDefault("websocket.messageSizeLimit", 15<<20)
	v.SetDefault("websocket.pingInterval", 25*time.Second)
	v.SetDefault("websocket.pongTimeout", 60*time.Second)
	v.SetDefault("websocket.writeTimeout", 10*time.Second)
	v.SetDefault("websocket.maxPending", 0)

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "default-secret")
	v.SetDefault("auth.tokenQueryParam", "token")
	v.SetDefault("auth.tokenTTL", 24*time.Hour)
	v.SetDefault("auth.revocationListKey", "jwt:revoked")
	v.SetDefault("auth.userStore", "memory")

	// API
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 3001)
	v.SetDefault("api.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("api.allowedMethods", []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"})

	// Session store
	v.SetDefault("sessionStore.type", "memory")
	v.SetDefault("sessionStore.ttl", 2*time.Hour)

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 100)
	v.SetDefault("redis.poolTimeout", 5*time.Second)

	// Broker
	v.SetDefault("broker.type", "none")
	v.SetDefault("broker.channel", "relay:sessions")
	v.SetDefault("broker.kafka.topic", "relay-sessions")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
