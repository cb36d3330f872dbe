// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// RedisConfig provides settings for Redis (realtime pub/sub and task queue).
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RetellConfig provides settings for the Retell voice-AI provider.
type RetellConfig interface {
	GetRetellAPIKey() string
	GetRetellBaseURL() string
	GetRetellWebhookSecret() string
	GetRetellFromNumber() string
}

// DispatchConfig provides pacing settings for the run dispatch loop.
type DispatchConfig interface {
	GetDispatchCallsPerSecond() float64
	GetDispatchConcurrency() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	CORSAllowAll           bool
	CORSOrigins            []string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	RetellAPIKey           string
	RetellBaseURL          string
	RetellWebhookSecret    string
	RetellFromNumber       string
	DispatchCallsPerSecond float64
	DispatchConcurrency    int
	ShutdownTimeout        time.Duration
}

// Load reads configuration from the environment, with .env support for
// local development. Required values are validated here so the process
// fails fast instead of at first use.
func Load() (*Config, error) {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		CORSAllowAll:           getEnvBool("CORS_ALLOW_ALL", false),
		CORSOrigins:            splitCSV(os.Getenv("CORS_ORIGINS")),
		RedisURL:               os.Getenv("REDIS_URL"),
		RedisTLSInsecure:       getEnvBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       getEnvInt("ASYNQ_CONCURRENCY", 10),
		RetellAPIKey:           os.Getenv("RETELL_API_KEY"),
		RetellBaseURL:          getEnv("RETELL_BASE_URL", "https://api.retellai.com"),
		RetellWebhookSecret:    os.Getenv("RETELL_WEBHOOK_SECRET"),
		RetellFromNumber:       os.Getenv("RETELL_FROM_NUMBER"),
		DispatchCallsPerSecond: getEnvFloat("DISPATCH_CALLS_PER_SECOND", 1.0),
		DispatchConcurrency:    getEnvInt("DISPATCH_CONCURRENCY", 3),
		ShutdownTimeout:        10 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) GetDatabaseURL() string             { return c.DatabaseURL }
func (c *Config) GetHTTPAddr() string                { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool              { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string           { return c.CORSOrigins }
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool          { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string          { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int           { return c.AsynqConcurrency }
func (c *Config) GetRetellAPIKey() string            { return c.RetellAPIKey }
func (c *Config) GetRetellBaseURL() string           { return c.RetellBaseURL }
func (c *Config) GetRetellWebhookSecret() string     { return c.RetellWebhookSecret }
func (c *Config) GetRetellFromNumber() string        { return c.RetellFromNumber }
func (c *Config) GetDispatchCallsPerSecond() float64 { return c.DispatchCallsPerSecond }
func (c *Config) GetDispatchConcurrency() int        { return c.DispatchConcurrency }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
