// Package config provides configuration management for the claim pipeline.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Claim    ClaimConfig
	Bonus    BonusConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Host           string
	RequestsPerSec int // per-client API rate limit
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the claim event log
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// LedgerConfig holds chain RPC and token contract configuration
type LedgerConfig struct {
	RPCPrimary      string
	RPCSecondary    string
	ChainID         int64
	TokenContract   string
	OperatorKey     string // hex-encoded private key of the minting operator
	RequestTimeout  time.Duration
	RPCRatePerSec   int // max RPC calls per second against the provider
	GasLimitSingle  uint64
	GasLimitPerMint uint64 // additional gas budget per recipient in a batch
}

// ClaimConfig holds claim pipeline tuning knobs
type ClaimConfig struct {
	SubmitWait       time.Duration // soft deadline before a claim request detaches
	TimeoutWindow    time.Duration // pending-to-timeout reconciliation window
	SweepInterval    time.Duration
	BatchInterval    time.Duration
	BatchSize        int
	SkipBalanceCheck bool
	CacheTTL         time.Duration // TTL for cached pending claim statuses
}

// BonusMode selects how the referral bonus amount is computed
type BonusMode string

const (
	// BonusModeFixed mints a fixed bonus amount
	BonusModeFixed BonusMode = "fixed"
	// BonusModePercent mints a percentage of the primary claim amount
	BonusModePercent BonusMode = "percent"
)

// BonusConfig holds referral bonus configuration
type BonusConfig struct {
	Mode            BonusMode
	FixedAmount     string // token quantity as decimal string
	PercentBps      int    // basis points of the primary mint, for percent mode
	FallbackAddress string // beneficiary of the silent bonus when no referrer exists
	SilentAmount    string // amount minted to the fallback address
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerSec: getEnvAsInt("SERVER_REQUESTS_PER_SEC", 10),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "claim_pipeline"),
				User:           getEnv("POSTGRES_USER", "claims"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "claim_pipeline"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Ledger: LedgerConfig{
			RPCPrimary:      getEnv("LEDGER_RPC_PRIMARY", ""),
			RPCSecondary:    getEnv("LEDGER_RPC_SECONDARY", ""),
			ChainID:         int64(getEnvAsInt("LEDGER_CHAIN_ID", 1)),
			TokenContract:   getEnv("LEDGER_TOKEN_CONTRACT", ""),
			OperatorKey:     getEnv("LEDGER_OPERATOR_KEY", ""),
			RequestTimeout:  getEnvAsDuration("LEDGER_REQUEST_TIMEOUT", 30*time.Second),
			RPCRatePerSec:   getEnvAsInt("LEDGER_RPC_RATE_PER_SEC", 20),
			GasLimitSingle:  uint64(getEnvAsInt("LEDGER_GAS_LIMIT_SINGLE", 120000)),
			GasLimitPerMint: uint64(getEnvAsInt("LEDGER_GAS_LIMIT_PER_MINT", 60000)),
		},
		Claim: ClaimConfig{
			SubmitWait:       getEnvAsDuration("CLAIM_SUBMIT_WAIT", 60*time.Second),
			TimeoutWindow:    getEnvAsDuration("CLAIM_TIMEOUT_WINDOW", 30*time.Minute),
			SweepInterval:    getEnvAsDuration("CLAIM_SWEEP_INTERVAL", 5*time.Minute),
			BatchInterval:    getEnvAsDuration("CLAIM_BATCH_INTERVAL", 15*time.Minute),
			BatchSize:        getEnvAsInt("CLAIM_BATCH_SIZE", 50),
			SkipBalanceCheck: getEnvAsBool("CLAIM_SKIP_BALANCE_CHECK", false),
			CacheTTL:         getEnvAsDuration("CLAIM_CACHE_TTL", 20*time.Second),
		},
		Bonus: BonusConfig{
			Mode:            BonusMode(getEnv("BONUS_MODE", string(BonusModeFixed))),
			FixedAmount:     getEnv("BONUS_FIXED_AMOUNT", "10"),
			PercentBps:      getEnvAsInt("BONUS_PERCENT_BPS", 1000),
			FallbackAddress: getEnv("BONUS_FALLBACK_ADDRESS", ""),
			SilentAmount:    getEnv("BONUS_SILENT_AMOUNT", "1"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures.
func (c *Config) validate() error {
	if c.Claim.BatchSize <= 0 {
		return fmt.Errorf("claim batch size must be positive, got %d", c.Claim.BatchSize)
	}
	if c.Claim.SubmitWait <= 0 {
		return fmt.Errorf("claim submit wait must be positive, got %v", c.Claim.SubmitWait)
	}
	if c.Claim.TimeoutWindow <= c.Claim.SubmitWait {
		return fmt.Errorf("timeout window (%v) must exceed submit wait (%v)",
			c.Claim.TimeoutWindow, c.Claim.SubmitWait)
	}
	switch c.Bonus.Mode {
	case BonusModeFixed, BonusModePercent:
	default:
		return fmt.Errorf("unknown bonus mode: %s", c.Bonus.Mode)
	}
	return nil
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
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
