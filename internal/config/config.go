package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "ExchangeLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRegisterLimit   = 5
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	// Development-only secrets, never accepted outside IsDev.
	devMasterSeed = "dev-only-master-seed"
	devJWTSecret  = "dev-only-jwt-secret"
)

// Counter backends.
const (
	CounterBackendPostgres = "postgres"
	CounterBackendRedis    = "redis"
	CounterBackendMemory   = "memory"
)

// Notifier backends.
const (
	NotifierLog   = "log"
	NotifierRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	LogFormat         string
	DatabaseURL       string
	RedisURL          string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	MasterSeed        string
	JWTSecret         string
	AdminAPIKey       string
	CounterBackend    string
	CounterFallback   bool
	Notifier          string
	MigrateOnStart    bool
	RegisterRateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present; real
// environment variables take precedence over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		MasterSeed:        os.Getenv("WALLET_MASTER_SEED"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminAPIKey:       os.Getenv("ADMIN_API_KEY"),
		CounterBackend:    strings.ToLower(getEnv("COUNTER_BACKEND", CounterBackendPostgres)),
		Notifier:          strings.ToLower(getEnv("NOTIFIER", NotifierLog)),
		RegisterRateLimit: defaultRegisterLimit,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.CounterFallback, err = boolFromEnv("COUNTER_FALLBACK", true); err != nil {
		return Config{}, err
	}
	if cfg.MigrateOnStart, err = boolFromEnv("MIGRATE_ON_START", true); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("REGISTER_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REGISTER_RATE_LIMIT: %w", err)
		}
		cfg.RegisterRateLimit = n
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CounterBackend {
	case CounterBackendPostgres, CounterBackendRedis, CounterBackendMemory:
	default:
		return fmt.Errorf("invalid COUNTER_BACKEND %q", c.CounterBackend)
	}
	switch c.Notifier {
	case NotifierLog, NotifierRedis:
	default:
		return fmt.Errorf("invalid NOTIFIER %q", c.Notifier)
	}

	if c.IsDev() {
		if c.MasterSeed == "" {
			c.MasterSeed = devMasterSeed
		}
		if c.JWTSecret == "" {
			c.JWTSecret = devJWTSecret
		}
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.MasterSeed == "" {
		return fmt.Errorf("WALLET_MASTER_SEED must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// IsDev reports whether the process runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
