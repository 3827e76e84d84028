package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL,required" validate:"required"`

	WorkerCount          int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	QueuePollIntervalSec int `env:"QUEUE_POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	CronSweepIntervalSec int `env:"CRON_SWEEP_INTERVAL_SEC" envDefault:"60" validate:"min=1,max=60"`
	LeaseTimeoutSec      int `env:"LEASE_TIMEOUT_SEC" envDefault:"300" validate:"min=10"`

	RateLimitWindowSeconds int   `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60" validate:"min=1"`
	RateLimitMaxEvents     int64 `env:"RATE_LIMIT_MAX_EVENTS" envDefault:"90" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// WorkerCallbackBaseURL is the base URL task-type handlers compose their
	// callback_url from (see cmd/server's handler registrations).
	WorkerCallbackBaseURL string `env:"WORKER_CALLBACK_BASE_URL" envDefault:"http://127.0.0.1:3000"`

	// InternalAPISecret gates ingress with an X-Internal-Secret header check.
	// Left unset, the check is disabled — dev-only.
	InternalAPISecret string `env:"INTERNAL_API_SECRET"`

	// CallbackJWTSecret signs the bearer token attached to outbound worker
	// callbacks so a receiver can verify the request came from this scheduler.
	CallbackJWTSecret string `env:"CALLBACK_JWT_SECRET,required" validate:"required"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
