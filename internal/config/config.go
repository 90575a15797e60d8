package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	EnableHSTS  bool   `env:"ENABLE_HSTS" envDefault:"false"`

	OIDCProvider    string        `env:"OIDC_PROVIDER" envDefault:"google"`
	PopupTimeout    time.Duration `env:"POPUP_TIMEOUT" envDefault:"5m"`
	SignInRateLimit string        `env:"SIGNIN_RATE_LIMIT" envDefault:"10-M"`

	RedisURL   string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SessionKey string        `env:"SESSION_KEY" envDefault:"letmeask"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// SessionIdleTimeout is how long the server keeps an unused browser session loaded
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	RabbitMQURL      string        `env:"RABBITMQ_URL"`
	RabbitMQPrefetch int           `env:"RABBITMQ_PREFETCH" envDefault:"1"`
	DLQRetention     time.Duration `env:"DLQ_RETENTION" envDefault:"24h"`
	DLQGCInterval    time.Duration `env:"DLQ_GC_INTERVAL" envDefault:"1h"`

	LogDevelopment  bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
	WorkerDebugMode bool   `env:"WORKER_DEBUG_MODE" envDefault:"false"`
	ServerDebugMode bool   `env:"SERVER_DEBUG_MODE" envDefault:"false"`
	OTELEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// ErrRabbitMQRequired is returned by RequireRabbitMQ when RABBITMQ_URL is unset
var ErrRabbitMQRequired = errors.New("RABBITMQ_URL is required for profile sync jobs")

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom loads configuration from the given variables instead of the
// process environment
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PopupTimeout <= 0 {
		return nil, fmt.Errorf("POPUP_TIMEOUT must be positive, got %s", cfg.PopupTimeout)
	}
	if cfg.SessionIdleTimeout < cfg.PopupTimeout {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT (%s) must not be shorter than POPUP_TIMEOUT (%s)", cfg.SessionIdleTimeout, cfg.PopupTimeout)
	}
	if cfg.RabbitMQPrefetch < 1 {
		cfg.RabbitMQPrefetch = 1
	}

	return cfg, nil
}

// RequireRabbitMQ fails when no broker is configured. The worker cannot run
// without one; the server only announces sign-ins when it has one.
func (c *Config) RequireRabbitMQ() error {
	if c.RabbitMQURL == "" {
		return ErrRabbitMQRequired
	}
	return nil
}
