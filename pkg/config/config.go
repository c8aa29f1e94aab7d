package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration. Postgres (postgres://) and SQLite
	// (sqlite://) URLs are supported.
	DatabaseURL string
	DBTimeout   time.Duration

	// Rate limiting configuration
	RateLimitCapacity int
	RateLimitBackend  string
	RedisURL          string

	// Webhook delivery configuration
	WebhookWorkers     int
	WebhookBatchSize   int
	WebhookMaxAttempts int
	WebhookBaseDelay   time.Duration
	WebhookMaxDelay    time.Duration
	WebhookHTTPTimeout time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "3000"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DBTimeout:          getEnvAsDuration("DB_TIMEOUT", 5*time.Second),
		RateLimitCapacity:  getEnvAsInt("RATE_LIMIT_CAPACITY", 100),
		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", "memory"),
		RedisURL:           getEnv("REDIS_URL", "localhost:6379"),
		WebhookWorkers:     getEnvAsInt("WEBHOOK_WORKERS", 1),
		WebhookBatchSize:   getEnvAsInt("WEBHOOK_BATCH_SIZE", 10),
		WebhookMaxAttempts: getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookBaseDelay:   getEnvAsDuration("WEBHOOK_BASE_DELAY", 30*time.Second),
		WebhookMaxDelay:    getEnvAsDuration("WEBHOOK_MAX_DELAY", time.Hour),
		WebhookHTTPTimeout: getEnvAsDuration("WEBHOOK_HTTP_TIMEOUT", 10*time.Second),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.RateLimitCapacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}

	if c.RateLimitBackend != "memory" && c.RateLimitBackend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be \"memory\" or \"redis\", got %q", c.RateLimitBackend)
	}

	if c.WebhookWorkers <= 0 {
		return fmt.Errorf("WEBHOOK_WORKERS must be positive")
	}

	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive")
	}

	if c.WebhookBaseDelay <= 0 || c.WebhookMaxDelay < c.WebhookBaseDelay {
		return fmt.Errorf("webhook retry delays are invalid: base=%s max=%s", c.WebhookBaseDelay, c.WebhookMaxDelay)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration ("30s", "1h")
// with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
