package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Billing   BillingConfig
	Processor ProcessorConfig
	Secrets   SecretsConfig
	Logger    LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	// CronSecret authenticates requests from the external scheduler
	CronSecret string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// BillingConfig holds billing engine tunables
type BillingConfig struct {
	// MaxRetries bounds gateway submission attempts per transaction.
	// Retry exhaustion is a count, not a clock.
	MaxRetries int
	// YieldBatchSize caps how many due subscriptions one pass locks at once
	YieldBatchSize int32
	// ProcessBatchSize caps how many pending transactions one run submits
	ProcessBatchSize int32
}

// ProcessorConfig holds payment processor configuration
type ProcessorConfig struct {
	// Kind selects the gateway adapter ("sandbox" for the in-memory double)
	Kind string
	// APIKeySecretPath is resolved through the secret manager
	APIKeySecretPath string
}

// SecretsConfig selects the secrets backend
type SecretsConfig struct {
	Backend   string // "local", "aws", or "vault"
	LocalPath string // base path for the local backend
	AWSRegion string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
			CronSecret:  getEnv("CRON_SECRET", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "billing_engine"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Billing: BillingConfig{
			MaxRetries:       getEnvAsInt("BILLING_MAX_RETRIES", 10),
			YieldBatchSize:   int32(getEnvAsInt("BILLING_YIELD_BATCH_SIZE", 100)),
			ProcessBatchSize: int32(getEnvAsInt("BILLING_PROCESS_BATCH_SIZE", 100)),
		},
		Processor: ProcessorConfig{
			Kind:             getEnv("PROCESSOR_KIND", "sandbox"),
			APIKeySecretPath: getEnv("PROCESSOR_API_KEY_SECRET", "processor/api-key"),
		},
		Secrets: SecretsConfig{
			Backend:   getEnv("SECRETS_BACKEND", "local"),
			LocalPath: getEnv("SECRETS_LOCAL_PATH", "/var/run/secrets/billing"),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Server.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}
	if cfg.Billing.MaxRetries < 0 {
		return nil, fmt.Errorf("BILLING_MAX_RETRIES must be >= 0")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
