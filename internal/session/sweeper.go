package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/log"
)

// DefaultSweepInterval is the sweep cadence when the configuration leaves
// it unset.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically clears expired sessions from an [Engine].
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   log.Logger
}

// NewSweeper creates a sweeper with the given cadence. A non-positive
// interval falls back to DefaultSweepInterval.
func NewSweeper(engine *Engine, interval time.Duration, logger log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, sweeping on each tick. Callers must
// track the goroutine with a WaitGroup. A panicking sweep is logged and
// the loop keeps ticking; one bad pass must not end expiry for the whole
// process.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("session sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("session sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// runOnce executes a single sweep pass.
func (s *Sweeper) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("session sweep panicked", "panic", r)
		}
	}()

	if n := s.engine.ClearExpired(); n > 0 {
		s.logger.Info("expired sessions swept", "count", n)
	}
}
