package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/joho/godotenv"
)

// Store backends selected by DATABASE_URL.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Env       string // dev, prod, test (default: dev)
	LogLevel  string // debug, info, warn, error (default: info)
	LogFormat string // json, text (default: json)
	Port      int    // HTTP port (default: 3000)

	DatabaseURL string // file:..., postgres://..., memory:// (default: file:gateway.db)
	RedisURL    string // Optional: keeps refresh tokens in redis instead of DatabaseURL
	RedisPrefix string // Key prefix in redis (default: tenantgate)
	PepperFile  string // Password pepper, created on first start (default: ./pepper)

	JWTSecret  []byte        // Required: HS256 secret, at least 32 bytes
	Issuer     string        // iss claim (default: tenantgate)
	AccessTTL  time.Duration // JWT_EXPIRY (default: 15m)
	RefreshTTL time.Duration // JWT_REFRESH_EXPIRY (default: 7d)
	ClockSkew  time.Duration // Leeway on exp (default: 5s)

	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 1h
	RetryBackoff         time.Duration // Wait before retrying a failed read (default: 50ms)
}

// LoadConfig reads the environment, after loading .env when one exists.
// Malformed token lifetimes are an error rather than a silent default.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 3000),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "file:gateway.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		RedisPrefix: getEnvOrDefault("REDIS_PREFIX", "tenantgate"),
		PepperFile:  getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
		Issuer:    getEnvOrDefault("JWT_ISSUER", "tenantgate"),
		ClockSkew: getEnvDurationOrDefault("AUTH_CLOCK_SKEW", jwtx.DefaultLeeway),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		RetryBackoff:         getEnvDurationOrDefault("STORE_RETRY_BACKOFF", 50*time.Millisecond),
	}

	var err error
	if cfg.AccessTTL, err = ParseExpiry(getEnvOrDefault("JWT_EXPIRY", "15m")); err != nil {
		return Config{}, fmt.Errorf("JWT_EXPIRY: %w", err)
	}
	if cfg.RefreshTTL, err = ParseExpiry(getEnvOrDefault("JWT_REFRESH_EXPIRY", "7d")); err != nil {
		return Config{}, fmt.Errorf("JWT_REFRESH_EXPIRY: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate reports the first setting the gateway cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Env != "dev" && c.Env != "prod" && c.Env != "test":
		return fmt.Errorf("ENV must be dev, prod or test, got %q", c.Env)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	case len(c.JWTSecret) < jwtx.MinSecretLength:
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", jwtx.MinSecretLength)
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case c.AccessTTL >= c.RefreshTTL:
		return errors.New("JWT_EXPIRY must be shorter than JWT_REFRESH_EXPIRY")
	case c.ClockSkew < 0 || c.ClockSkew >= c.AccessTTL:
		return errors.New("AUTH_CLOCK_SKEW must be non-negative and shorter than JWT_EXPIRY")
	}

	if _, err := c.Backend(); err != nil {
		return err
	}
	return nil
}

// Backend names the store DatabaseURL selects.
func (c Config) Backend() (string, error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return BackendPostgres, nil
	case c.DatabaseURL == "memory://":
		return BackendMemory, nil
	case strings.HasPrefix(c.DatabaseURL, "file:"):
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("DATABASE_URL: unsupported scheme in %q", c.DatabaseURL)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
