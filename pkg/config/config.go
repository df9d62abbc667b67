// Package config provides environment-based configuration for the control plane.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the control plane.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIHost string
	APIPort int

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Deployment pricing and account pool behavior
	Deploy DeployConfig

	// Workflow run monitor configuration
	Monitor MonitorConfig

	// Recurring billing sweep configuration
	Billing BillingConfig

	// Account token encryption
	Secrets SecretsConfig
}

// DeployConfig holds deployment-specific configuration.
type DeployConfig struct {
	// Fee is the one-time coin cost of creating a deployment.
	Fee int64
	// DailyCharge is the recurring coin cost per billing period.
	DailyCharge int64
	// AccountConcurrency is the queued/in-progress run count at or above
	// which an account is considered busy during selection.
	AccountConcurrency int
	// MonitorGraceDelay is how long to wait after dispatch before the first
	// status poll, giving the provider time to register the run.
	MonitorGraceDelay time.Duration
}

// MonitorConfig holds workflow run monitor configuration.
type MonitorConfig struct {
	PollInterval     time.Duration
	MaxAttempts      int
	FallbackInterval time.Duration
	StaleAfter       time.Duration
}

// BillingConfig holds billing sweep configuration.
type BillingConfig struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// SecretsConfig holds age encryption keys for account tokens at rest.
type SecretsConfig struct {
	// AgePublicKey is the age public key for encryption.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey is the age private key for decryption.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Deploy.Fee < 0 || c.Deploy.DailyCharge < 0 {
		return fmt.Errorf("deployment fees must not be negative")
	}
	if c.Monitor.MaxAttempts <= 0 {
		return fmt.Errorf("MONITOR_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-key-change-in-production"
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/botgrid?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		APIPort:         getIntEnv("API_PORT", 8080),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Deploy: DeployConfig{
			Fee:                getInt64Env("DEPLOY_FEE", 25),
			DailyCharge:        getInt64Env("DEPLOY_DAILY_CHARGE", 10),
			AccountConcurrency: getIntEnv("ACCOUNT_CONCURRENCY", 5),
			MonitorGraceDelay:  getDurationEnv("MONITOR_GRACE_DELAY", 15*time.Second),
		},
		Monitor: MonitorConfig{
			PollInterval:     getDurationEnv("MONITOR_POLL_INTERVAL", 30*time.Second),
			MaxAttempts:      getIntEnv("MONITOR_MAX_ATTEMPTS", 60),
			FallbackInterval: getDurationEnv("MONITOR_FALLBACK_INTERVAL", 2*time.Minute),
			StaleAfter:       getDurationEnv("MONITOR_STALE_AFTER", 10*time.Minute),
		},
		Billing: BillingConfig{
			Interval:     getDurationEnv("BILLING_INTERVAL", 24*time.Hour),
			StartupDelay: getDurationEnv("BILLING_STARTUP_DELAY", 1*time.Minute),
		},
		Secrets: SecretsConfig{
			AgePublicKey:  getEnv("AGE_PUBLIC_KEY", ""),
			AgePrivateKey: getEnv("AGE_PRIVATE_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
