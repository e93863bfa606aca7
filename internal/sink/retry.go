package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// RetryConfig configures the write policy of a [Retry] sink.
type RetryConfig struct {
	Attempts       int           // total attempts per write, including the first
	Delay          time.Duration // pause before attempt n is n * Delay
	AttemptTimeout time.Duration // per-attempt deadline; 0 uses the caller's
}

// DefaultRetryConfig returns the policy used when configuration leaves the
// knobs unset.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       3,
		Delay:          200 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

// Retry decorates a sink with bounded retries. A duplicate-key error is
// treated as success: turn IDs are stable across attempts, so the
// violation means an earlier attempt committed and only its response was
// lost.
type Retry struct {
	next   session.Sink
	cfg    RetryConfig
	logger log.Logger
}

// NewRetry wraps next with the given policy. Zero or negative fields fall
// back to DefaultRetryConfig values.
func NewRetry(next session.Sink, cfg RetryConfig, logger log.Logger) *Retry {
	def := DefaultRetryConfig()
	if cfg.Attempts < 1 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = def.Delay
	}
	if cfg.AttemptTimeout < 0 {
		cfg.AttemptTimeout = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retry{next: next, cfg: cfg, logger: logger}
}

// SaveTurn writes the turn through the policy.
func (r *Retry) SaveTurn(ctx context.Context, rec session.TurnRecord) error {
	return r.do(ctx, "turn", rec.SessionID, func(ctx context.Context) error {
		return r.next.SaveTurn(ctx, rec)
	})
}

// UpdateStats writes the session record through the policy.
func (r *Retry) UpdateStats(ctx context.Context, rec session.SessionRecord) error {
	return r.do(ctx, "session", rec.ID, func(ctx context.Context) error {
		return r.next.UpdateStats(ctx, rec)
	})
}

// do runs one write under the retry policy.
func (r *Retry) do(ctx context.Context, kind, id string, write func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		err := r.attempt(ctx, write)
		if err == nil {
			return nil
		}
		if isDuplicateKey(err) {
			// A previous attempt committed; only its response was lost.
			r.logger.Debug("duplicate write treated as success",
				"kind", kind, "id", id, "attempt", attempt)
			return nil
		}

		lastErr = err
		if attempt == r.cfg.Attempts {
			break
		}

		r.logger.Warn("sink write failed, retrying",
			"kind", kind,
			"id", id,
			"attempt", attempt,
			"error", err)

		// Linear backoff, canceled with the caller.
		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * r.cfg.Delay):
		}
	}

	return fmt.Errorf("%s write failed after %d attempts: %w", kind, r.cfg.Attempts, lastErr)
}

// attempt runs write once under the per-attempt deadline.
func (r *Retry) attempt(ctx context.Context, write func(context.Context) error) error {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	return write(ctx)
}

// isDuplicateKey reports whether err is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
