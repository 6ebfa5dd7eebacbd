package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "mainnet", cfg.Network)  // Default
	assert.Equal(t, 30*time.Second, cfg.DefaultPollInterval)
	assert.Equal(t, 10*time.Second, cfg.MinPollInterval)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingSolanaRPCURL(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestLoad_InvalidNetwork(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("SOLANA_NETWORK", "testnet")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_NETWORK must be mainnet or devnet")
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("DEFAULT_POLL_INTERVAL", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_MinIntervalGreaterThanDefault(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("DEFAULT_POLL_INTERVAL", "10s")
	os.Setenv("MIN_POLL_INTERVAL", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "cannot be greater than")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:         "postgres://localhost/test",
		SolanaRPCURL:        "https://api.mainnet-beta.solana.com",
		Network:             "devnet",
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "escrowdesk-escrow-polling",
		DefaultPollInterval: 30 * time.Second,
		MinPollInterval:     10 * time.Second,
	}
	assert.NoError(t, cfg.Validate())

	cfg.Network = "localnet"
	assert.Error(t, cfg.Validate())
}

func cleanupEnv() {
	vars := []string{
		"SERVER_ADDR", "LOG_LEVEL", "DATABASE_URL", "NATS_URL",
		"SOLANA_RPC_URL", "SOLANA_NETWORK", "TOKEN_REGISTRY_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"DEFAULT_POLL_INTERVAL", "MIN_POLL_INTERVAL",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
