package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "SIGNER_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	setEnv(t, "CHAIN_RPC_URL", "https://sepolia.base.org")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestLoad_MissingSignerKey(t *testing.T) {
	setEnv(t, "SIGNER_KEY", "")
	setEnv(t, "CHAIN_RPC_URL", "https://sepolia.base.org")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNER_KEY is required")
}

func TestLoad_InvalidSignerKeyLength(t *testing.T) {
	setEnv(t, "SIGNER_KEY", "tooshort")
	setEnv(t, "CHAIN_RPC_URL", "https://sepolia.base.org")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestConfig_Validate(t *testing.T) {
	validKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				SignerKey:          validKey,
				RPCURL:             "https://sepolia.base.org",
				Port:               "8080",
				RateLimitRPM:       100,
				DBStatementTimeout: 5000,
			},
			wantErr: "",
		},
		{
			name: "missing signer key",
			config: Config{
				SignerKey: "",
				RPCURL:    "https://sepolia.base.org",
				Port:      "8080",
			},
			wantErr: "SIGNER_KEY is required",
		},
		{
			name: "invalid signer key length",
			config: Config{
				SignerKey: "abc123",
				RPCURL:    "https://sepolia.base.org",
				Port:      "8080",
			},
			wantErr: "64 hex characters",
		},
		{
			name: "missing RPC URL",
			config: Config{
				SignerKey: validKey,
				RPCURL:    "",
				Port:      "8080",
			},
			wantErr: "CHAIN_RPC_URL is required",
		},
		{
			name: "port out of range",
			config: Config{
				SignerKey: validKey,
				RPCURL:    "https://sepolia.base.org",
				Port:      "99999",
			},
			wantErr: "PORT must be a number between 1 and 65535",
		},
		{
			name: "rate limit too low",
			config: Config{
				SignerKey:    validKey,
				RPCURL:       "https://sepolia.base.org",
				Port:         "8080",
				RateLimitRPM: 0,
			},
			wantErr: "RATE_LIMIT_PER_MINUTE must be at least 1",
		},
		{
			name: "statement timeout too low",
			config: Config{
				SignerKey:          validKey,
				RPCURL:             "https://sepolia.base.org",
				Port:               "8080",
				RateLimitRPM:       100,
				DBStatementTimeout: 10,
			},
			wantErr: "POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))
}
