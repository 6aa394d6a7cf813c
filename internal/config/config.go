// Package config loads runtime configuration from environment variables.
// Defaults are safe for local development against the simulator; production
// deployments must set the backend URL and bearer token explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config holds all monitor configuration.
type Config struct {
	Backend   BackendConfig
	Transport TransportConfig
	Dedup     DedupConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Slack     SlackConfig
}

// BackendConfig locates the remote multi-agent backend.
type BackendConfig struct {
	WebsocketURL string
	BootstrapURL string
	BearerToken  string //nolint:gosec // G117: credential config
	Domain       string
}

// TransportConfig tunes connection recovery.
type TransportConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	HealthInterval time.Duration
	SilenceLimit   time.Duration
	SendRate       float64
	SendBurst      int
}

// DedupConfig tunes the seen-frame horizon.
type DedupConfig struct {
	Threshold     int
	ClearInterval time.Duration
}

// RedisConfig enables the shared dedup horizon when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// DatabaseConfig enables the transcript archive when DSN is set.
type DatabaseConfig struct {
	DSN      string
	MaxConns int
}

// SlackConfig enables Slack notifications when both values are set.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Load reads configuration from HUBSTREAM_* environment variables.
func Load() (*Config, error) {
	baseDelay, err := getEnvDuration("HUBSTREAM_BASE_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxDelay, err := getEnvDuration("HUBSTREAM_MAX_DELAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAttempts, err := getEnvInt("HUBSTREAM_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	healthInterval, err := getEnvDuration("HUBSTREAM_HEALTH_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	silenceLimit, err := getEnvDuration("HUBSTREAM_SILENCE_LIMIT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sendRate, err := getEnvFloat("HUBSTREAM_SEND_RATE", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sendBurst, err := getEnvInt("HUBSTREAM_SEND_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dedupThreshold, err := getEnvInt("HUBSTREAM_DEDUP_THRESHOLD", 1000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dedupClear, err := getEnvDuration("HUBSTREAM_DEDUP_CLEAR_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("HUBSTREAM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("HUBSTREAM_DB_MAX_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Backend: BackendConfig{
			WebsocketURL: getEnv("HUBSTREAM_WS_URL", "ws://localhost:8091/ws"),
			BootstrapURL: getEnv("HUBSTREAM_BOOTSTRAP_URL", "http://localhost:8091/api/conversations"),
			BearerToken:  getEnv("HUBSTREAM_TOKEN", ""),
			Domain:       getEnv("HUBSTREAM_DOMAIN", ""),
		},
		Transport: TransportConfig{
			BaseDelay:      baseDelay,
			MaxDelay:       maxDelay,
			MaxAttempts:    maxAttempts,
			HealthInterval: healthInterval,
			SilenceLimit:   silenceLimit,
			SendRate:       sendRate,
			SendBurst:      sendBurst,
		},
		Dedup: DedupConfig{
			Threshold:     dedupThreshold,
			ClearInterval: dedupClear,
		},
		Redis: RedisConfig{
			Addr:     getEnv("HUBSTREAM_REDIS_ADDR", ""),
			Password: getEnv("HUBSTREAM_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Database: DatabaseConfig{
			DSN:      getEnv("HUBSTREAM_DB_DSN", ""),
			MaxConns: dbMaxConns,
		},
		Slack: SlackConfig{
			BotToken: getEnv("HUBSTREAM_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("HUBSTREAM_SLACK_CHANNEL", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Backend.WebsocketURL == "" {
		return errors.New("HUBSTREAM_WS_URL is required")
	}
	if !strings.HasPrefix(c.Backend.WebsocketURL, "ws://") && !strings.HasPrefix(c.Backend.WebsocketURL, "wss://") {
		return fmt.Errorf("HUBSTREAM_WS_URL must be a ws:// or wss:// URL, got %q", c.Backend.WebsocketURL)
	}
	if c.Transport.BaseDelay <= 0 {
		return fmt.Errorf("HUBSTREAM_BASE_DELAY must be positive, got %s", c.Transport.BaseDelay)
	}
	if c.Transport.MaxDelay < c.Transport.BaseDelay {
		return fmt.Errorf("HUBSTREAM_MAX_DELAY must be >= base delay, got %s", c.Transport.MaxDelay)
	}
	if c.Transport.MaxAttempts < 1 {
		return fmt.Errorf("HUBSTREAM_MAX_ATTEMPTS must be >= 1, got %d", c.Transport.MaxAttempts)
	}
	if c.Transport.SilenceLimit <= c.Transport.HealthInterval {
		return fmt.Errorf("HUBSTREAM_SILENCE_LIMIT (%s) must exceed HUBSTREAM_HEALTH_INTERVAL (%s)", c.Transport.SilenceLimit, c.Transport.HealthInterval)
	}
	if c.Dedup.Threshold < 1 {
		return fmt.Errorf("HUBSTREAM_DEDUP_THRESHOLD must be >= 1, got %d", c.Dedup.Threshold)
	}
	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		return errors.New("HUBSTREAM_SLACK_CHANNEL is required when HUBSTREAM_SLACK_BOT_TOKEN is set")
	}
	return nil
}

// SendLimit converts the configured rate into the limiter type.
func (c *TransportConfig) SendLimit() rate.Limit {
	return rate.Limit(c.SendRate)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}
