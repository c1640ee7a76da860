package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"hostchat/internal/config"
	"hostchat/internal/domain"
	"hostchat/internal/httpserver"
	"hostchat/internal/logging"
	"hostchat/internal/moderation"
	"hostchat/internal/property"
	"hostchat/internal/ratelimit"
	"hostchat/internal/relay"
	"hostchat/internal/security"
	"hostchat/internal/service"
	"hostchat/internal/store/postgres"
	"hostchat/internal/store/sqlite"
	"hostchat/internal/ws"
)

// Tokens are issued by the main platform; locally minted ones are for tooling.
const localTokenTTL = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With("app", cfg.AppName, "instance_id", instanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var encryptor *security.Encryptor
	if cfg.EncryptKey != "" {
		if encryptor, err = security.NewEncryptor([]byte(cfg.EncryptKey)); err != nil {
			return fmt.Errorf("initialize encryptor: %w", err)
		}
	} else if cfg.IsProduction() {
		log.Warn("ENCRYPTION_KEY not set, message content is stored in plaintext")
	}

	db, convs, msgs, err := openStores(cfg, encryptor)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("store ready", "driver", cfg.StoreDriver)

	engine, err := moderation.NewEngine(log)
	if err != nil {
		return fmt.Errorf("initialize moderation: %w", err)
	}
	chat := service.NewChatService(convs, msgs, engine, log)
	if cfg.PropertyAPIURL != "" {
		chat.SetHostVerifier(property.NewClient(cfg.PropertyAPIURL, cfg.PropertyAPITimeout, log))
	} else {
		log.Warn("PROPERTY_API_URL not set, host ownership is not verified")
	}

	var redisClient *redis.Client
	if cfg.RelayBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient, err = relay.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			if cfg.RelayRequired {
				return fmt.Errorf("connect redis: %w", err)
			}
			log.Warn("redis unreachable, running in degraded mode with local-only delivery", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var rel relay.Relay = relay.NewLocal()
	if cfg.RelayBackend == "redis" && redisClient != nil {
		rel = relay.NewRedis(ctx, redisClient, cfg.RelayChannelPrefix, log)
		log.Info("relay ready", "backend", "redis")
	}
	defer rel.Close()

	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == "redis" && redisClient != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisClient, cfg.MessagesPerMinute, cfg.RelayChannelPrefix, log)
	} else {
		limiter = ratelimit.NewMemoryRateLimiter(cfg.MessagesPerMinute, cfg.RateLimitSweepInterval)
	}
	defer limiter.Close()

	hub := ws.NewHub()
	bus := ws.NewBus(hub, rel, chat, instanceID, log)
	chat.SetNotifier(bus)
	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped", "error", err)
		}
	}()

	tokens := security.NewTokenService(cfg.JWTSecret, localTokenTTL)
	wsHandler := ws.NewHandler(hub, bus, chat, tokens, limiter, ws.HandlerConfig{
		AllowedOrigins: cfg.CORSOrigins,
		TypingTimeout:  cfg.TypingTimeout,
	}, log)

	router := httpserver.NewRouter(httpserver.Deps{
		CORSOrigins: cfg.CORSOrigins,
		Auth:        tokens,
		Chat:        chat,
		WS:          wsHandler,
		Log:         log,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.HTTPAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := wsHandler.CloseAll(shutdownCtx); err != nil {
		log.Error("closing websocket connections", "error", err)
	}
	return nil
}

func openStores(cfg *config.Config, enc *security.Encryptor) (*sql.DB, domain.ConversationRepository, domain.MessageRepository, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return db, postgres.NewConversationRepo(db, enc), postgres.NewMessageRepo(db, enc), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return db, sqlite.NewConversationRepo(db, enc), sqlite.NewMessageRepo(db, enc), nil
	}
}
