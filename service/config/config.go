package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. All required fields are validated at startup to ensure
// fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL string
	Network      string // "mainnet" or "devnet"

	// Token metadata registry (optional; empty disables enrichment)
	TokenRegistryURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if cfg.Network != "mainnet" && cfg.Network != "devnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be mainnet or devnet, got %q", cfg.Network))
	}

	cfg.TokenRegistryURL = os.Getenv("TOKEN_REGISTRY_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "escrowdesk-escrow-polling")

	defaultInterval, err := parseDuration("DEFAULT_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPollInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEFAULT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DefaultPollInterval))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid. Useful
// for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid. Useful for testing
// configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}
	if c.Network != "mainnet" && c.Network != "devnet" {
		errs = append(errs, fmt.Errorf("Network must be mainnet or devnet"))
	}
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}
	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DefaultPollInterval"))
	}
	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if
// not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a
// default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
