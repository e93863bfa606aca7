// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.parley/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Session: TTL, conversation window, cleanup cadence
//   - Summary: LLM summarization model, trigger, cache bounds
//   - Storage: PostgreSQL connection for the durable sink (see storage.go)
//   - Server: listen address, CORS, rate limiting
//   - Tracing: OTLP span export (see tracing.go)
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
// Validation: Range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidSessionTTL indicates the session TTL is out of range.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidMaxExchanges indicates the conversation window bound is out of range.
	ErrInvalidMaxExchanges = errors.New("invalid max exchanges")

	// ErrInvalidCleanupInterval indicates the sweeper interval is out of range.
	ErrInvalidCleanupInterval = errors.New("invalid cleanup interval")

	// ErrInvalidSummaryModel indicates the summary model name is invalid.
	ErrInvalidSummaryModel = errors.New("invalid summary model")

	// ErrInvalidSummaryTrigger indicates the summary trigger turn count is out of range.
	ErrInvalidSummaryTrigger = errors.New("invalid summary trigger")

	// ErrInvalidSummaryCache indicates the summary cache bounds are out of range.
	ErrInvalidSummaryCache = errors.New("invalid summary cache")

	// ErrInvalidRetryPolicy indicates the sink retry policy is out of range.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrInvalidServerAddr indicates the server listen address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Session engine configuration
	SessionTTL      time.Duration `mapstructure:"session_ttl" json:"session_ttl"`           // idle lifetime before a session expires
	MaxExchanges    int           `mapstructure:"max_exchanges" json:"max_exchanges"`       // conversation window bound, in (user, assistant) pairs
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"` // background sweeper cadence

	// Summarization configuration
	Provider           string        `mapstructure:"provider" json:"provider"` // "gemini" (default), "googleai"
	SummaryEnabled     bool          `mapstructure:"summary_enabled" json:"summary_enabled"`
	SummaryModel       string        `mapstructure:"summary_model" json:"summary_model"` // e.g. "gemini-2.5-flash"
	SummaryTriggerTurn int           `mapstructure:"summary_trigger_turn" json:"summary_trigger_turn"`
	SummaryMaxTokens   int           `mapstructure:"summary_max_tokens" json:"summary_max_tokens"`
	SummaryTemperature float32       `mapstructure:"summary_temperature" json:"summary_temperature"`
	SummaryCacheTTL    time.Duration `mapstructure:"summary_cache_ttl" json:"summary_cache_ttl"`
	SummaryCacheSize   int           `mapstructure:"summary_cache_size" json:"summary_cache_size"`

	// Durable sink configuration
	DurableWrites      bool          `mapstructure:"durable_writes" json:"durable_writes"`
	SinkRetryAttempts  int           `mapstructure:"sink_retry_attempts" json:"sink_retry_attempts"`
	SinkRetryDelay     time.Duration `mapstructure:"sink_retry_delay" json:"sink_retry_delay"`
	SinkAttemptTimeout time.Duration `mapstructure:"sink_attempt_timeout" json:"sink_attempt_timeout"`
	CreateWriteBudget  time.Duration `mapstructure:"create_write_budget" json:"create_write_budget"` // best-effort budget for the creation write

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration
	ServerAddr     string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins    []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Tracing configuration (see tracing.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.parley/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".parley")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Session engine defaults
	viper.SetDefault("session_ttl", "30m")
	viper.SetDefault("max_exchanges", 10)
	viper.SetDefault("cleanup_interval", "5m")

	// Summarization defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("summary_enabled", true)
	viper.SetDefault("summary_model", "gemini-2.5-flash")
	viper.SetDefault("summary_trigger_turn", 5)
	viper.SetDefault("summary_max_tokens", 256)
	viper.SetDefault("summary_temperature", 0.3)
	viper.SetDefault("summary_cache_ttl", "10m")
	viper.SetDefault("summary_cache_size", 256)

	// Durable sink defaults
	viper.SetDefault("durable_writes", true)
	viper.SetDefault("sink_retry_attempts", 3)
	viper.SetDefault("sink_retry_delay", "200ms")
	viper.SetDefault("sink_attempt_timeout", "2s")
	viper.SetDefault("create_write_budget", "2s")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "parley")
	viper.SetDefault("postgres_password", "parley_dev_password")
	viper.SetDefault("postgres_db_name", "parley")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("server_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit_rps", 10)
	viper.SetDefault("rate_limit_burst", 60)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "parley")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit (not via Viper); app setup
// degrades to heuristic-only summaries when it is absent.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Server overrides
	mustBind("server_addr", "PARLEY_SERVER_ADDR")
	mustBind("cors_origins", "PARLEY_CORS_ORIGINS")
	mustBind("trust_proxy", "PARLEY_TRUST_PROXY")

	// Session engine overrides
	mustBind("session_ttl", "PARLEY_SESSION_TTL")
	mustBind("max_exchanges", "PARLEY_MAX_EXCHANGES")
	mustBind("cleanup_interval", "PARLEY_CLEANUP_INTERVAL")
	mustBind("durable_writes", "PARLEY_DURABLE_WRITES")

	// Summarization overrides
	mustBind("provider", "PARLEY_PROVIDER")
	mustBind("summary_enabled", "PARLEY_SUMMARY_ENABLED")
	mustBind("summary_model", "PARLEY_SUMMARY_MODEL")

	// Logging overrides
	mustBind("log_level", "PARLEY_LOG_LEVEL")
	mustBind("log_json", "PARLEY_LOG_JSON")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper
	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL()
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// Use this (e.g. slog with a *Config value) instead of logging raw struct fields.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursing into MarshalJSON
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
