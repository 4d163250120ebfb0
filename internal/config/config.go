// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Balance modes select where the outstanding balance used for available
// credit comes from.
const (
	BalanceModeLedger   = "ledger"   // outstanding spend recorded in the ledger
	BalanceModeEstimate = "estimate" // 10% of lifetime volume, capped
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL   string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL      string // Score cache (optional, uses in-memory if not set)
	ScoreCacheTTL time.Duration

	// Chain feature extraction. Empty RPCURL means snapshots come from the
	// ingestion endpoint instead of the chain.
	RPCURL         string
	ChainID        int64
	ScanBlocks     int
	KnownProtocols map[string]string // lowercase contract address -> protocol name

	// Events
	KafkaBrokers []string
	KafkaTopic   string

	// Observability
	OTelEndpoint string

	// Security
	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
	AdminSecret    string

	// Credit policy
	RepaymentTermDays     int
	FallbackOnSourceError bool
	BalanceMode           string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultChainID        = 84532 // Base Sepolia
	DefaultScanBlocks     = 1000
	DefaultScoreCacheTTL  = 5 * time.Minute
	DefaultKafkaTopic     = "swipefi.credit.events"
	DefaultRateLimit      = 100
	DefaultRateLimitBurst = 20
	DefaultRepaymentTerm  = 30
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		ScoreCacheTTL:         getEnvDuration("SCORE_CACHE_TTL", DefaultScoreCacheTTL),
		RPCURL:                os.Getenv("RPC_URL"),
		ChainID:               getEnvInt64("CHAIN_ID", DefaultChainID),
		ScanBlocks:            int(getEnvInt64("SCAN_BLOCKS", DefaultScanBlocks)),
		KnownProtocols:        parseProtocols(os.Getenv("KNOWN_PROTOCOLS")),
		KafkaBrokers:          getEnvList("KAFKA_BROKERS"),
		KafkaTopic:            getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTelEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:          int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		RateLimitBurst:        int(getEnvInt64("RATE_LIMIT_BURST", int64(DefaultRateLimitBurst))),
		CORSOrigins:           getEnvList("CORS_ORIGINS"),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RepaymentTermDays:     int(getEnvInt64("REPAYMENT_TERM_DAYS", DefaultRepaymentTerm)),
		FallbackOnSourceError: getEnvBool("FALLBACK_ON_SOURCE_ERROR", false),
		BalanceMode:           getEnv("BALANCE_MODE", BalanceModeLedger),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	switch c.BalanceMode {
	case BalanceModeLedger, BalanceModeEstimate:
	default:
		return fmt.Errorf("BALANCE_MODE must be %q or %q, got %q", BalanceModeLedger, BalanceModeEstimate, c.BalanceMode)
	}

	if c.RPCURL != "" {
		if c.ChainID <= 0 {
			return fmt.Errorf("CHAIN_ID must be positive when RPC_URL is set")
		}
		if c.ScanBlocks <= 0 {
			return fmt.Errorf("SCAN_BLOCKS must be positive when RPC_URL is set")
		}
	}

	if c.ScoreCacheTTL < 0 {
		return fmt.Errorf("SCORE_CACHE_TTL must not be negative")
	}

	if c.RepaymentTermDays <= 0 {
		return fmt.Errorf("REPAYMENT_TERM_DAYS must be positive")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
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

// RepaymentTerm returns the repayment window for a spend.
func (c *Config) RepaymentTerm() time.Duration {
	return time.Duration(c.RepaymentTermDays) * 24 * time.Hour
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseProtocols reads "0xaddr=Name,0xaddr2=Name2". Malformed entries are skipped.
func parseProtocols(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		addr, name, ok := strings.Cut(strings.TrimSpace(part), "=")
		addr, name = strings.TrimSpace(addr), strings.TrimSpace(name)
		if !ok || addr == "" || name == "" {
			continue
		}
		out[strings.ToLower(addr)] = name
	}
	return out
}
