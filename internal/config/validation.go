package config

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Session engine validation
	if c.SessionTTL < time.Second {
		return fmt.Errorf("%w: must be at least 1s, got %s", ErrInvalidSessionTTL, c.SessionTTL)
	}

	// Window bound is in exchanges (user+assistant pairs); the message list
	// holds twice this many entries.
	if c.MaxExchanges < 1 || c.MaxExchanges > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidMaxExchanges, c.MaxExchanges)
	}

	if c.CleanupInterval < time.Second {
		return fmt.Errorf("%w: must be at least 1s, got %s", ErrInvalidCleanupInterval, c.CleanupInterval)
	}

	// 2. Provider validation
	validProviders := []string{ProviderGemini, ProviderGoogleAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not supported, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	// 3. Summarization validation (only when enabled)
	if c.SummaryEnabled {
		if c.SummaryModel == "" {
			return fmt.Errorf("%w: summary_model cannot be empty", ErrInvalidSummaryModel)
		}
		if c.SummaryTriggerTurn < 1 {
			return fmt.Errorf("%w: summary_trigger_turn must be at least 1, got %d",
				ErrInvalidSummaryTrigger, c.SummaryTriggerTurn)
		}
		if c.SummaryCacheSize < 1 {
			return fmt.Errorf("%w: summary_cache_size must be at least 1, got %d",
				ErrInvalidSummaryCache, c.SummaryCacheSize)
		}
		if c.SummaryCacheTTL < time.Second {
			return fmt.Errorf("%w: summary_cache_ttl must be at least 1s, got %s",
				ErrInvalidSummaryCache, c.SummaryCacheTTL)
		}
	}

	// 4. Sink retry policy validation (only when durable writes are on)
	if c.DurableWrites {
		if c.SinkRetryAttempts < 1 || c.SinkRetryAttempts > 10 {
			return fmt.Errorf("%w: sink_retry_attempts must be between 1 and 10, got %d",
				ErrInvalidRetryPolicy, c.SinkRetryAttempts)
		}
		if c.SinkRetryDelay < 0 {
			return fmt.Errorf("%w: sink_retry_delay cannot be negative, got %s",
				ErrInvalidRetryPolicy, c.SinkRetryDelay)
		}
		if c.SinkAttemptTimeout < 100*time.Millisecond {
			return fmt.Errorf("%w: sink_attempt_timeout must be at least 100ms, got %s",
				ErrInvalidRetryPolicy, c.SinkAttemptTimeout)
		}
		if c.CreateWriteBudget < 100*time.Millisecond {
			return fmt.Errorf("%w: create_write_budget must be at least 100ms, got %s",
				ErrInvalidRetryPolicy, c.CreateWriteBudget)
		}
	}

	// 5. Server validation
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr cannot be empty", ErrInvalidServerAddr)
	}

	// 6. PostgreSQL validation (connection is required for the durable sink)
	if c.DurableWrites {
		if c.PostgresHost == "" {
			return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
		}

		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
		}

		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
		}

		if c.PostgresPassword == "" {
			return fmt.Errorf("%w: postgres_password must be set in config.yaml",
				ErrInvalidPostgresPassword)
		}

		// Warn on the default dev password but don't block - user might be in dev
		if c.PostgresPassword == "parley_dev_password" {
			slog.Warn("Using default development password for PostgreSQL",
				"warning", "Change postgres_password in config.yaml for production deployments")
		}

		if len(c.PostgresPassword) < 8 {
			return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
				ErrInvalidPostgresPassword, len(c.PostgresPassword))
		}

		// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
		// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
		validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
		if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
			return fmt.Errorf("%w: %q is not valid, must be one of: %v",
				ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
		}
	}

	return nil
}
