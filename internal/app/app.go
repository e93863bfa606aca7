// Package app assembles the session engine, its durable sink, the model
// client, and the HTTP API into one runnable application.
//
// Setup builds the pieces in dependency order; App.Close releases them in
// reverse. Degraded modes are first-class rather than errors: without a
// database the engine runs memory-only, and without a model API key chat
// serves simulated replies and summaries fall back to the heuristic.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// traceFlushBudget bounds the span flush during shutdown.
const traceFlushBudget = 5 * time.Second

// App is the assembled application.
type App struct {
	Config *config.Config
	Engine *session.Engine
	Server *api.Server
	Pool   *pgxpool.Pool  // nil in memory-only mode
	Genkit *genkit.Genkit // nil when no model API key is configured

	logger log.Logger

	sweepCancel   context.CancelFunc
	sweepDone     sync.WaitGroup
	traceShutdown func(context.Context) error
}

// Close releases resources in reverse construction order: the sweeper
// stops first so nothing mutates the engine mid-teardown, then the pool
// closes, then the trace exporter flushes its remaining spans.
//
// Safe to call on a partially constructed App; Setup relies on that to
// unwind after a failed step.
func (a *App) Close() error {
	if a.sweepCancel != nil {
		a.sweepCancel()
		a.sweepDone.Wait()
	}

	if a.Pool != nil {
		a.Pool.Close()
		if a.logger != nil {
			a.logger.Debug("database pool closed")
		}
	}

	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), traceFlushBudget)
		defer cancel()
		if err := a.traceShutdown(ctx); err != nil {
			return fmt.Errorf("shutting down tracer: %w", err)
		}
	}

	return nil
}
