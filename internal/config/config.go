// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PostgresDSN     string
	AuthSecret      string
	TokenTTL        time.Duration
	AllowedOrigins  []string
	RateBurst       int
	RatePerSec      int
	RedisAddr       string
	RedisPassword   string
	RedisChannel    string
	LogLevel        string
	ShutdownTimeout time.Duration
	MigrateOnStart  bool
}

// ErrMissingSecret is returned when BAZAAR_AUTH_SECRET is empty.
var ErrMissingSecret = errors.New("config: BAZAAR_AUTH_SECRET is required")

// Load reads an optional .env file (existing variables win) and then the
// process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		HTTPAddr:       getenv("BAZAAR_HTTP_ADDR", ":8080"),
		GRPCAddr:       getenv("BAZAAR_GRPC_ADDR", ""),
		PostgresDSN:    getenv("BAZAAR_PG_DSN", ""),
		AuthSecret:     strings.TrimSpace(os.Getenv("BAZAAR_AUTH_SECRET")),
		AllowedOrigins: splitList(getenv("BAZAAR_ALLOWED_ORIGINS", "")),
		RedisAddr:      getenv("BAZAAR_REDIS_ADDR", ""),
		RedisPassword:  getenv("BAZAAR_REDIS_PASSWORD", ""),
		RedisChannel:   getenv("BAZAAR_REDIS_CHANNEL", "bazaar.events"),
		LogLevel:       getenv("BAZAAR_LOG_LEVEL", "info"),
		MigrateOnStart: getenv("BAZAAR_MIGRATE_ON_START", "true") == "true",
	}
	if cfg.AuthSecret == "" {
		return nil, ErrMissingSecret
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("BAZAAR_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("BAZAAR_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = intEnv("BAZAAR_RATE_BURST", 40); err != nil {
		return nil, err
	}
	if cfg.RatePerSec, err = intEnv("BAZAAR_RATE_PER_SEC", 20); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := getenv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := getenv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
