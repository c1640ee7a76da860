package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	JWTSecret  string
	EncryptKey string

	CORSOrigins []string

	RelayBackend       string
	RedisURL           string
	RelayChannelPrefix string
	RelayRequired      bool
	InstanceID         string

	MessagesPerMinute      int
	RateLimitBackend       string
	RateLimitSweepInterval time.Duration
	TypingTimeout          time.Duration

	PropertyAPIURL     string
	PropertyAPITimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file is honoured
// outside production.
func Load() (*Config, error) {
	if getEnv("APP_ENV", "development") != "production" {
		_ = godotenv.Load()
	}

	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "hostchat")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=" + getEnv("POSTGRES_SSLMODE", "disable"),
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "hostchat"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "hostchat.db"),
		DatabaseURL: getEnv("DATABASE_URL", u.String()),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		EncryptKey: os.Getenv("ENCRYPTION_KEY"),

		RelayBackend:       strings.ToLower(getEnv("RELAY_BACKEND", "local")),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RelayChannelPrefix: getEnv("RELAY_CHANNEL_PREFIX", "hostchat"),
		RelayRequired:      getEnvAsBool("RELAY_REQUIRED", false),
		InstanceID:         os.Getenv("INSTANCE_ID"),

		MessagesPerMinute:      getEnvAsInt("MESSAGES_PER_MINUTE", 60),
		RateLimitBackend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateLimitSweepInterval: getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		TypingTimeout:          getEnvAsDuration("TYPING_TIMEOUT", 3*time.Second),

		PropertyAPIURL:     strings.TrimRight(getEnv("PROPERTY_API_URL", ""), "/"),
		PropertyAPITimeout: getEnvAsDuration("PROPERTY_API_TIMEOUT", 5*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", c.StoreDriver)
	}
	switch c.RelayBackend {
	case "local", "redis":
	default:
		return fmt.Errorf("RELAY_BACKEND must be local or redis, got %q", c.RelayBackend)
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimitBackend)
	}
	if c.MessagesPerMinute < 1 {
		return fmt.Errorf("MESSAGES_PER_MINUTE must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Port)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvAsDuration accepts Go duration strings ("3s") or bare milliseconds.
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
