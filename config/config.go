package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Server       ServerConfig
	Upstream     UpstreamConfig
	WebSocket    WebSocketConfig
	Auth         AuthConfig
	API          APIConfig
	SessionStore SessionStoreConfig
	Redis        RedisConfig
	Broker       BrokerConfig
	Metrics      MetricsConfig
	Log          LogConfig
}

// ServerConfig describes the relay listener.
type ServerConfig struct {
	Port         int
	Path         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UpstreamConfig describes the realtime event provider. Credential is
// required; everything else has a default.
type UpstreamConfig struct {
	Credential       string
	URL              string
	Model            string
	ConnectTimeout   time.Duration // 0 waits forever
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type WebSocketConfig struct {
	MessageSizeLimit int64
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxPending       int // 0 means unbounded
}

type AuthConfig struct {
	Enabled           bool // require a token on the relay handshake
	JWTSecret         string
	TokenQueryParam   string
	TokenTTL          time.Duration
	RevocationListKey string
	UserStore         string // memory | redis
}

type APIConfig struct {
	Enabled        bool
	Port           int
	AllowedOrigins []string
	AllowedMethods []string
}

type SessionStoreConfig struct {
	Type string // memory | redis
	TTL  time.Duration
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout time.Duration
}

type BrokerConfig struct {
	Type    string // none | redis | kafka
	Channel string
	Kafka   KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Level  string
	Format string // json | console
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c *AppConfig) UsesRedis() bool {
	return strings.EqualFold(c.SessionStore.Type, "redis") ||
		strings.EqualFold(c.Broker.Type, "redis") ||
		strings.EqualFold(c.Auth.UserStore, "redis")
}

// normalize lower-cases the enumerated settings so every consumer can
// compare them verbatim.
func (c *AppConfig) normalize() {
	c.SessionStore.Type = strings.ToLower(strings.TrimSpace(c.SessionStore.Type))
	c.Broker.Type = strings.ToLower(strings.TrimSpace(c.Broker.Type))
	c.Auth.UserStore = strings.ToLower(strings.TrimSpace(c.Auth.UserStore))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// LoadOptions selects where configuration is read from.
type LoadOptions struct {
	// Env picks config.<env>.yaml from ./configs or the working directory.
	Env string
	// File, when set, is read instead and must exist.
	File string
	// Flags are bound on top of env vars when non-nil.
	Flags *pflag.FlagSet
}

// Load builds the process configuration once. The returned value is treated
// as read-only by every component.
func Load(opts LoadOptions) (*AppConfig, error) {
	v := viper.New()
	if opts.Env == "" {
		opts.Env = "dev"
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(fmt.Sprintf("config.%s", opts.Env))
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("config env binding error: %w", err)
	}
	if err := bindFlags(v, opts.Flags); err != nil {
		return nil, fmt.Errorf("config flag binding error: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	if f := flags.Lookup("port"); f != nil {
		if err := v.BindPFlag("server.port", f); err != nil {
			return err
		}
	}
	if f := flags.Lookup("log-level"); f != nil {
		if err := v.BindPFlag("log.level", f); err != nil {
			return err
		}
	}
	return nil
}
