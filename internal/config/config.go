// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain settings — consumed by internal/indexer and internal/relayer
	RPCURL           string
	ChainID          int64
	SignerKey        string `json:"-"` // Hex-encoded relayer key, with or without 0x prefix — excluded from serialization
	ManagerAddress   string
	RegistryAddress  string
	VerifyingContract string // EIP-712 domain's verifyingContract; defaults to ManagerAddress

	// Escrow/relayer safety bound
	MaxEscrow string // decimal string, smallest unit; relayer refuses to sign above this

	// Security
	APIKeyHash   string // For authenticating SDK clients
	AdminSecret  string // Admin API secret
	RateLimitRPM int

	// Lifecycle constants — mirrored into mission.Config, settlement.Config
	// and the dispatch liveness window when internal/server wires the
	// services (OutlierReputationDelta is read but not wired); present here
	// so operators can tune them per deployment without a rebuild.
	BiddingThresholdMinor   int64
	WorkerBondFraction      float64
	VerifierBondFraction    float64
	ClawgerFee              float64
	VerifierFee             float64
	ReputationFloor         int
	ProposalBondMinor       int64
	WorkerBondSlashFraction float64
	OutlierBondSlashFraction float64
	OutlierReputationDelta  int
	LivenessWindow          time.Duration
	MaxRevisions            int

	// Indexer tuning — zero values let internal/indexer apply its own
	// defaults (LogRangeMax, DefaultSafeLookback, DefaultReorgDepth).
	SafeLookback  uint64
	LogRangeMax   uint64
	PollInterval  time.Duration
	SweepInterval time.Duration

	OperationTimeout time.Duration // global handler/transition execution timeout

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int // seconds, appended to Postgres DSN
	DBStatementTimeout int // milliseconds, appended to Postgres DSN

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint (e.g. "localhost:4317"), empty = disabled
}

// Base Sepolia defaults
const (
	DefaultRPCURL    = "https://sepolia.base.org"
	DefaultChainID   = 84532 // Base Sepolia
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultRateLimit = 100

	// Lifecycle defaults, matching assignment/mission/settlement's own
	// DefaultConfig constants — duplicated here only as the env-override
	// fallback; the packages' own constants remain authoritative when
	// config wiring is skipped (e.g. in package-level tests).
	DefaultBiddingThresholdMinor    = 100
	DefaultWorkerBondFraction       = 0.2
	DefaultVerifierBondFraction     = 0.05
	DefaultClawgerFee               = 0.10
	DefaultVerifierFee              = 0.05
	DefaultReputationFloor          = 30
	DefaultProposalBondMinor        = 1
	DefaultWorkerBondSlashFraction  = 1.0
	DefaultOutlierBondSlashFraction = 1.0
	DefaultOutlierReputationDelta   = -10
	DefaultLivenessWindow           = 90 * time.Second
	DefaultMaxRevisions             = 5

	DefaultOperationTimeout = 30 * time.Second

	// Database pool defaults
	DefaultDBMaxOpenConns     = 25
	DefaultDBMaxIdleConns     = 5
	DefaultDBConnMaxLifetime  = 5 * time.Minute
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5     // seconds
	DefaultDBStatementTimeout = 30000 // milliseconds (30s)

	// HTTP server timeout defaults
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: getEnv("DB_URL", os.Getenv("DATABASE_URL")), // Optional, uses in-memory if not set

		RPCURL:          getEnv("CHAIN_RPC_URL", DefaultRPCURL),
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		SignerKey:       os.Getenv("SIGNER_KEY"), // Required, no default
		ManagerAddress:  os.Getenv("MANAGER_ADDRESS"),
		RegistryAddress: os.Getenv("REGISTRY_ADDRESS"),
		VerifyingContract: getEnv("VERIFYING_CONTRACT", os.Getenv("MANAGER_ADDRESS")),

		MaxEscrow: getEnv("MAX_ESCROW", ""),

		APIKeyHash:  os.Getenv("API_KEY_HASH"),
		AdminSecret: os.Getenv("ADMIN_SECRET"),
		RateLimitRPM: func() int {
			rpm := getEnvInt64("RATE_LIMIT_PER_MINUTE", 0)
			if rpm == 0 {
				rpm = int64(DefaultRateLimit)
			}
			return int(rpm)
		}(),

		BiddingThresholdMinor:    getEnvInt64("BIDDING_THRESHOLD", DefaultBiddingThresholdMinor),
		WorkerBondFraction:       getEnvFloat64("WORKER_BOND_FRACTION", DefaultWorkerBondFraction),
		VerifierBondFraction:     getEnvFloat64("VERIFIER_BOND_FRACTION", DefaultVerifierBondFraction),
		ClawgerFee:               getEnvFloat64("CLAWGER_FEE", DefaultClawgerFee),
		VerifierFee:              getEnvFloat64("VERIFIER_FEE", DefaultVerifierFee),
		ReputationFloor:          int(getEnvInt64("REPUTATION_FLOOR", DefaultReputationFloor)),
		ProposalBondMinor:        getEnvInt64("PROPOSAL_BOND", DefaultProposalBondMinor),
		WorkerBondSlashFraction:  getEnvFloat64("WORKER_BOND_SLASH_FRACTION", DefaultWorkerBondSlashFraction),
		OutlierBondSlashFraction: getEnvFloat64("OUTLIER_BOND_SLASH_FRACTION", DefaultOutlierBondSlashFraction),
		OutlierReputationDelta:   int(getEnvInt64("OUTLIER_REPUTATION_DELTA", DefaultOutlierReputationDelta)),
		LivenessWindow:           getEnvDuration("LIVENESS_WINDOW", DefaultLivenessWindow),
		MaxRevisions:             int(getEnvInt64("MAX_REVISIONS", DefaultMaxRevisions)),

		SafeLookback:  getEnvUint64("SAFE_LOOKBACK", 0),
		LogRangeMax:   getEnvUint64("LOG_RANGE_MAX", 0),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 0),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),

		OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", DefaultOperationTimeout),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SignerKey == "" {
		return fmt.Errorf("SIGNER_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.SignerKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("SIGNER_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}

	// Port range
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	// Rate limit sanity
	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.RateLimitRPM)
	}

	// DB statement timeout sanity
	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}

	// Write timeout must exceed operation timeout to avoid truncated responses
	if c.HTTPWriteTimeout > 0 && c.OperationTimeout > 0 && c.HTTPWriteTimeout < c.OperationTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= OPERATION_TIMEOUT (%v)", c.HTTPWriteTimeout, c.OperationTimeout)
	}

	// Warnings (non-fatal)
	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin endpoints reject every request")
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}
