package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"8080"`
	AppURL        string `env:"APP_URL" default:"http://localhost:8080"`
	Storage       string `env:"STORAGE" default:"postgres"` // postgres or memory
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisURL      string `env:"REDIS_URL"`
	SessionSecret string `env:"SESSION_SECRET"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`
	LogFile       string `env:"LOG_FILE"`

	StressCooldown      time.Duration `env:"STRESS_COOLDOWN" default:"1h"`
	SuperstressCooldown time.Duration `env:"SUPERSTRESS_COOLDOWN" default:"24h"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	SessionMaxAge       time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	SummaryWindow time.Duration `env:"SUMMARY_WINDOW" default:"24h"`
	SummaryBucket time.Duration `env:"SUMMARY_BUCKET" default:"1h"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerUser   int `env:"MAX_CONNECTIONS_PER_USER" default:"10"`

	DecoratorURL      string        `env:"DECORATOR_URL"`
	DecoratorAPIKey   string        `env:"DECORATOR_API_KEY"`
	DecoratorModel    string        `env:"DECORATOR_MODEL" default:"gpt-4o-mini"`
	DecoratorTimeout  time.Duration `env:"DECORATOR_TIMEOUT" default:"750ms"`
	DecoratorFallback string        `env:"DECORATOR_FALLBACK" default:"Deep breaths. You've got this."`
}

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// InMemory reports whether readings, users and sessions live in process memory.
func (c *Config) InMemory() bool {
	return c.Storage == StorageMemory
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return fmt.Errorf("STORAGE must be %q or %q", StoragePostgres, StorageMemory)
	}

	required := []struct{ name, value string }{
		{"SESSION_SECRET", cfg.SessionSecret},
	}
	if !cfg.InMemory() {
		required = append([]struct{ name, value string }{
			{"DATABASE_URL", cfg.DatabaseURL},
			{"REDIS_URL", cfg.RedisURL},
		}, required...)
	}
	for _, kv := range required {
		if kv.value == "" {
			return fmt.Errorf("%s is required", kv.name)
		}
	}

	if len(cfg.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 characters")
	}

	if cfg.StressCooldown <= 0 {
		return errors.New("STRESS_COOLDOWN must be positive")
	}
	if cfg.SuperstressCooldown <= 0 {
		return errors.New("SUPERSTRESS_COOLDOWN must be positive")
	}
	if cfg.HeartbeatInterval < time.Second {
		return errors.New("HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.SummaryBucket <= 0 || cfg.SummaryBucket > cfg.SummaryWindow {
		return errors.New("SUMMARY_BUCKET must be positive and not exceed SUMMARY_WINDOW")
	}

	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}
	if cfg.MaxConnectionsPerUser < 1 {
		return errors.New("MAX_CONNECTIONS_PER_USER must be at least 1")
	}

	if _, err := url.ParseRequestURI(cfg.AppURL); err != nil {
		return fmt.Errorf("APP_URL must be a valid URL: %w", err)
	}

	if cfg.DecoratorURL != "" {
		if _, err := url.ParseRequestURI(cfg.DecoratorURL); err != nil {
			return fmt.Errorf("DECORATOR_URL must be a valid URL: %w", err)
		}
	}

	return nil
}
