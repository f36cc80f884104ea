package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	// Relational store (Postgres)
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"keystone"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"keystone"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"keystone"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Key-value store (Redis)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Admin surface
	AdminToken string `env:"ADMIN_TOKEN" envDefault:"change-me"`

	// Rate-limit defaults, used when a credential carries no per-key override.
	RateLimitRequests      int `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`

	// Auto-block controller
	EnableAutoBlock     bool `env:"ENABLE_AUTO_BLOCK" envDefault:"false"`
	AllowBlockLocalhost bool `env:"ALLOW_BLOCK_LOCALHOST" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if cfg.RateLimitWindowSeconds <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be at least 1, got %d", cfg.RateLimitWindowSeconds)
	}
	if cfg.RateLimitRequests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", cfg.RateLimitRequests)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseURL builds a pgx-compatible connection string from the discrete
// relational DSN components.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode,
	)
}

// RedisURL builds a go-redis connection string from the discrete KV address
// components.
func (c *Config) RedisURL() string {
	return fmt.Sprintf("redis://%s:%d/%d", c.RedisHost, c.RedisPort, c.RedisDB)
}

// DefaultRateLimit returns the process-wide fallback (limit, window) applied
// to credentials that carry no per-key override.
func (c *Config) DefaultRateLimit() (limit int, window int) {
	return c.RateLimitRequests, c.RateLimitWindowSeconds
}
