package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/sink"
)

// Pool tuning applied on top of the parsed connection string.
const (
	poolMaxConns          = 10
	poolMinConns          = 2
	poolMaxConnLifetime   = 30 * time.Minute
	poolMaxConnIdleTime   = 5 * time.Minute
	poolHealthCheckPeriod = time.Minute
	poolPingBudget        = 5 * time.Second
)

// Setup creates and initializes the application. The returned App owns
// every resource it built; release with Close.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, logger: logger}

	// A failed step unwinds everything the earlier steps built.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during failed setup", "error", err)
			}
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			AgentHost:   cfg.Tracing.AgentHost,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.traceShutdown = shutdown
	}

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	a.Genkit = provideGenkit(ctx, cfg, logger)

	var responder api.Responder
	var summarizer session.Summarizer
	if a.Genkit != nil {
		client, err := llm.New(a.Genkit, llm.Config{
			Model:       qualifiedModel(cfg),
			Temperature: cfg.SummaryTemperature,
			MaxTokens:   cfg.SummaryMaxTokens,
		}, logger.With("component", "llm"))
		if err != nil {
			return nil, fmt.Errorf("creating model client: %w", err)
		}
		responder = client
		if cfg.SummaryEnabled {
			summarizer = client
		}
	}

	creationSink, turnSink, err := provideSinks(pool, cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := session.NewEngine(session.EngineConfig{
		TTL:               cfg.SessionTTL,
		MaxExchanges:      cfg.MaxExchanges,
		DurableWrites:     pool != nil,
		CreationSink:      creationSink,
		TurnSink:          turnSink,
		CreateWriteBudget: cfg.CreateWriteBudget,
		Summarizer:        summarizer,
		SummaryTrigger:    cfg.SummaryTriggerTurn,
		SummaryCacheTTL:   cfg.SummaryCacheTTL,
		SummaryCacheSize:  cfg.SummaryCacheSize,
		Logger:            logger.With("component", "session"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating session engine: %w", err)
	}
	a.Engine = engine

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger.With("component", "api"),
		Engine:      engine,
		Responder:   responder,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		IsDev:       cfg.PostgresSSLMode == "disable",
		TrustProxy:  cfg.TrustProxy,
		RateRPS:     cfg.RateLimitRPS,
		RateBurst:   cfg.RateLimitBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	startSweeper(a, cfg, logger)

	return a, nil
}

// providePool runs migrations and opens the PostgreSQL connection pool.
// Memory-only deployments (durable_writes false) get a nil pool and skip
// the database entirely.
func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if !cfg.DurableWrites {
		logger.Info("durable writes disabled, sessions are memory-only")
		return nil, nil
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = poolMaxConns
	poolCfg.MinConns = poolMinConns
	poolCfg.MaxConnLifetime = poolMaxConnLifetime
	poolCfg.MaxConnIdleTime = poolMaxConnIdleTime
	poolCfg.HealthCheckPeriod = poolHealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, poolPingBudget)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the Google AI plugin. Returns nil
// when no API key is configured: chat then serves simulated replies and
// summaries fall back to the heuristic, which keeps local development
// working without credentials.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) *genkit.Genkit {
	if os.Getenv("GEMINI_API_KEY") == "" {
		logger.Warn("GEMINI_API_KEY not set, serving simulated replies and heuristic summaries")
		return nil
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		logger.Warn("genkit initialization failed, serving simulated replies and heuristic summaries")
		return nil
	}

	logger.Info("initialized Genkit with Google AI provider", "model", cfg.SummaryModel)
	return g
}

// qualifiedModel maps the configured bare model name to its Genkit
// registry name. Both accepted providers resolve to the googleai plugin.
func qualifiedModel(cfg *config.Config) string {
	return "googleai/" + cfg.SummaryModel
}

// provideSinks builds the engine's two write targets: the raw sink takes
// the best-effort session record writes, the retrying wrapper takes the
// strict per-turn writes.
func provideSinks(pool *pgxpool.Pool, cfg *config.Config, logger log.Logger) (creation, turn session.Sink, err error) {
	if pool == nil {
		return nil, nil, nil
	}

	raw, err := sink.NewPostgres(pool, logger.With("component", "sink"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating postgres sink: %w", err)
	}

	retrying := sink.NewRetry(raw, sink.RetryConfig{
		Attempts:       cfg.SinkRetryAttempts,
		Delay:          cfg.SinkRetryDelay,
		AttemptTimeout: cfg.SinkAttemptTimeout,
	}, logger.With("component", "sink.retry"))

	return raw, retrying, nil
}

// startSweeper runs the background expiry sweep until Close. The sweeper
// gets its own cancelation rather than the setup context so that a
// canceled startup signal does not stop expiry while the server drains.
func startSweeper(a *App, cfg *config.Config, logger log.Logger) {
	sweeper := session.NewSweeper(a.Engine, cfg.CleanupInterval, logger.With("component", "session.sweeper"))

	ctx, cancel := context.WithCancel(context.Background())
	a.sweepCancel = cancel
	a.sweepDone.Add(1)
	go func() {
		defer a.sweepDone.Done()
		sweeper.Run(ctx)
	}()
}
