package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danieljoseph18/flui-backend/auth"
	"github.com/danieljoseph18/flui-backend/broker"
	"github.com/danieljoseph18/flui-backend/config"
	"github.com/danieljoseph18/flui-backend/logging"
	"github.com/danieljoseph18/flui-backend/metrics"
	"github.com/danieljoseph18/flui-backend/server"
	"github.com/danieljoseph18/flui-backend/services"
	"github.com/danieljoseph18/flui-backend/session"
	"github.com/danieljoseph18/flui-backend/upstream"
	"github.com/danieljoseph18/flui-backend/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	env := flags.String("env", envOr("ENVIRONMENT", "dev"), "configuration environment (selects config.<env>.yaml)")
	configFile := flags.String("config", "", "explicit configuration file")
	flags.Int("port", config.DefaultPort, "relay listen port")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(config.LoadOptions{Env: *env, File: *configFile, Flags: flags})
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to initialize config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Sugar()

	if err := run(cfg, log); err != nil {
		log.Fatalf("Relay stopped with error: %v", err)
	}
}

func run(cfg *config.AppConfig, log *zap.SugaredLogger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Generate a unique ID for this relay instance
	serverID := uuid.NewString()
	log.Infof("Starting relay instance with ID: %s", serverID)
	log.Infof("Upstream %s (model %s), key %s",
		cfg.Upstream.URL, cfg.Upstream.Model, logging.RedactCredential(cfg.Upstream.Credential))

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = services.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, services.CloseRedisClient(redisClient)) }()
	}

	var sessionStore session.Store
	switch cfg.SessionStore.Type {
	case "redis":
		sessionStore = session.NewRedisStore(redisClient, cfg.SessionStore.TTL)
	default:
		sessionStore = session.NewMemoryStore(cfg.SessionStore.TTL)
	}

	log.Infof("Initializing message broker of type: %s", cfg.Broker.Type)
	publisher, err := broker.New(cfg.Broker, redisClient, log)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	// --- Auth Initialization ---
	var users auth.UserStore = auth.NewMemoryUserStore()
	if cfg.Auth.UserStore == "redis" {
		users = auth.NewRedisUserStore(redisClient)
	}
	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.RevocationListKey, redisClient, log)
	authService := auth.NewService(users, auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), log)

	// A nil *auth.Validator inside the interface would not read as nil.
	var handshakeValidator websocket.TokenValidator
	if cfg.Auth.Enabled {
		handshakeValidator = validator
		log.Infof("Handshake authentication is ENABLED.")
	} else {
		log.Infof("Handshake authentication is DISABLED.")
	}

	factory := upstream.NewFactory(upstream.Config{
		URL:              cfg.Upstream.URL,
		Model:            cfg.Upstream.Model,
		Credential:       cfg.Upstream.Credential,
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		WriteTimeout:     cfg.Upstream.WriteTimeout,
	}, log.Named("upstream"))

	clientManager := websocket.NewClientManager(sessionStore, publisher, serverID, log)
	handler := websocket.NewHandler(cfg, clientManager, factory, handshakeValidator, log.Named("relay"))

	relaySrv := server.NewServer(":"+strconv.Itoa(cfg.Server.Port), handler,
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log)

	var apiSrv, metricsSrv *server.Server
	if cfg.API.Enabled {
		router := server.NewAPIRouter(cfg.API, auth.NewHTTPHandler(authService, validator, log), log.Named("api"))
		apiSrv = server.NewServer(":"+strconv.Itoa(cfg.API.Port), router,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log.Named("api"))
	}
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewServer(":"+strconv.Itoa(cfg.Metrics.Port), metrics.Handler(cfg.Metrics.Path),
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, log.Named("metrics"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(relaySrv.Start)
	if apiSrv != nil {
		g.Go(apiSrv.Start)
	}
	if metricsSrv != nil {
		g.Go(metricsSrv.Start)
	}
	log.Infof("WebSocket relay started on :%d%s", cfg.Server.Port, cfg.Server.Path)

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := relaySrv.ShutdownRelay(shutdownCtx, clientManager, publisher)
		if apiSrv != nil {
			shutdownErr = multierr.Append(shutdownErr, apiSrv.Shutdown(shutdownCtx))
		}
		if metricsSrv != nil {
			shutdownErr = multierr.Append(shutdownErr, metricsSrv.Shutdown(shutdownCtx))
		}
		return shutdownErr
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("Relay stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
