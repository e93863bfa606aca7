package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/log"
)

// Enricher annotates freshly created sessions with request-derived data
// (for example IP geolocation). The shipped composition wires
// [NoopEnricher]; the hook exists so deployments can plug a real one in.
type Enricher interface {
	Enrich(ctx context.Context, metadata map[string]any) map[string]any
}

// NoopEnricher produces no enrichment.
type NoopEnricher struct{}

// Enrich returns nil.
func (NoopEnricher) Enrich(context.Context, map[string]any) map[string]any { return nil }

// EngineConfig configures an [Engine] and its component store and memory.
type EngineConfig struct {
	// TTL is the idle session lifetime. Required.
	TTL time.Duration

	// MaxExchanges bounds the conversation window in (user, assistant)
	// pairs. Defaults to DefaultMaxExchanges.
	MaxExchanges int

	// DurableWrites enables sink persistence. When false both sinks are
	// ignored and the engine is memory-only.
	DurableWrites bool

	// CreationSink receives the best-effort session record writes (one
	// attempt under CreateWriteBudget). Typically the raw sink.
	CreationSink Sink

	// TurnSink receives the strict per-turn writes. Typically the sink
	// wrapped in a retry decorator; a failure here rolls the turn back.
	TurnSink Sink

	// CreateWriteBudget bounds the creation write. Defaults to 2s.
	CreateWriteBudget time.Duration

	// Summarizer, SummaryTrigger, SummaryCacheTTL and SummaryCacheSize
	// configure context condensation. A nil Summarizer disables it.
	Summarizer       Summarizer
	SummaryTrigger   int
	SummaryCacheTTL  time.Duration
	SummaryCacheSize int

	// Enricher annotates new sessions. Optional.
	Enricher Enricher

	// Clock overrides the time source. Optional, defaults to time.Now.
	Clock Clock

	// Logger is the structured logger. Optional, defaults to slog.Default().
	Logger log.Logger
}

// DefaultCreateWriteBudget bounds the best-effort creation write when the
// configuration leaves it unset.
const DefaultCreateWriteBudget = 2 * time.Second

// Engine is the session facade consumed by the API layer. It guarantees
// that operations touching both the session table and the conversation
// memory update the two together, so callers never observe a half-created
// or half-deleted session.
type Engine struct {
	store    *Store
	memory   *Memory
	enricher Enricher
	logger   log.Logger
}

// NewEngine composes a session engine from its configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("session TTL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CreateWriteBudget <= 0 {
		cfg.CreateWriteBudget = DefaultCreateWriteBudget
	}
	if cfg.Enricher == nil {
		cfg.Enricher = NoopEnricher{}
	}

	var creationSink, turnSink Sink
	if cfg.DurableWrites {
		creationSink = cfg.CreationSink
		turnSink = cfg.TurnSink
	}

	store := NewStore(StoreConfig{
		TTL:               cfg.TTL,
		CreateWriteBudget: cfg.CreateWriteBudget,
		Sink:              creationSink,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger.With("component", "session.store"),
	})
	memory := NewMemory(MemoryConfig{
		MaxExchanges:     cfg.MaxExchanges,
		Durable:          cfg.DurableWrites && turnSink != nil,
		Sink:             turnSink,
		Summarizer:       cfg.Summarizer,
		SummaryTrigger:   cfg.SummaryTrigger,
		SummaryCacheTTL:  cfg.SummaryCacheTTL,
		SummaryCacheSize: cfg.SummaryCacheSize,
		Clock:            cfg.Clock,
		Logger:           cfg.Logger.With("component", "session.memory"),
	})

	return &Engine{
		store:    store,
		memory:   memory,
		enricher: cfg.Enricher,
		logger:   cfg.Logger,
	}, nil
}

// CreateResult is the outcome of CreateSession. ID is the assigned session
// ID, which differs from the requested one when that was already taken.
type CreateResult struct {
	ID         string         `json:"id"`
	Enrichment map[string]any `json:"enrichment,omitempty"`
}

// CreateSession registers a session and its conversation window.
// requestedID may be empty. Creation never fails: sink problems are
// absorbed by the store's best-effort write.
func (e *Engine) CreateSession(ctx context.Context, requestedID string, metadata map[string]any) CreateResult {
	snap := e.store.Create(ctx, requestedID, metadata)
	e.memory.Create(snap.ID)

	return CreateResult{
		ID:         snap.ID,
		Enrichment: e.enricher.Enrich(ctx, snap.Metadata),
	}
}

// Reason distinguishes the invalid-session cases of GetSession.
type Reason string

// GetSession failure reasons.
const (
	ReasonNotFound Reason = "not_found"
	ReasonExpired  Reason = "expired"
)

// GetResult is the structured outcome of GetSession. Callers branch on
// Valid and Reason instead of errors so "start a fresh session" is
// distinguishable from a programming error.
type GetResult struct {
	Valid        bool          `json:"valid"`
	Reason       Reason        `json:"reason,omitempty"`
	Session      *Session      `json:"session,omitempty"`
	RemainingTTL time.Duration `json:"remaining_ttl,omitempty"`
}

// GetSession returns the session snapshot and its remaining TTL, renewing
// the idle clock and merging extra into the metadata. An expired session
// is removed together with its window and reports ReasonExpired exactly
// once; subsequent calls report ReasonNotFound.
func (e *Engine) GetSession(id string, extra map[string]any) GetResult {
	snap, remaining, err := e.store.Get(id, extra)
	switch {
	case err == nil:
		return GetResult{Valid: true, Session: snap, RemainingTTL: remaining}
	case errors.Is(err, ErrExpired):
		e.memory.Delete(id)
		return GetResult{Reason: ReasonExpired}
	default:
		return GetResult{Reason: ReasonNotFound}
	}
}

// DeleteSession removes the session and its conversation memory together.
// Idempotent.
func (e *Engine) DeleteSession(id string) {
	e.store.Delete(id)
	e.memory.Delete(id)
}

// Stats returns the session table counters.
func (e *Engine) Stats() Stats {
	return e.store.Stats()
}

// ClearExpired sweeps expired sessions together with their windows and
// cached summaries, prunes windows orphaned by racing expiry, and returns
// the number of sessions removed. A sweep with nothing to remove changes
// no state.
func (e *Engine) ClearExpired() int {
	removed := e.store.SweepExpired()
	for _, id := range removed {
		e.memory.Delete(id)
	}

	orphans := e.memory.PruneOrphans(e.store.Has)
	if pruned := e.memory.PruneSummaries(); pruned > 0 || len(orphans) > 0 {
		e.logger.Debug("sweep housekeeping",
			"orphan_windows", len(orphans),
			"stale_summaries", pruned)
	}
	return len(removed)
}

// AddTurn records one (user, assistant) exchange on an existing session.
//
// On success the session's activity clock and turn counter advance, facts
// are extracted from the user message (best-effort, outside every lock),
// and the aggregate record is refreshed in the sink under the creation
// budget. On persistence failure the window is rolled back and the error
// wraps [ErrAppendPersistence]; the session is then untouched.
func (e *Engine) AddTurn(ctx context.Context, id, userMsg, assistantMsg string, meta *TurnMeta) error {
	if e.store.Peek(id) == nil {
		return ErrNotFound
	}

	if err := e.memory.Append(ctx, id, userMsg, assistantMsg, meta); err != nil {
		return err
	}

	snap := e.store.Touch(id)

	if facts := ExtractFacts(userMsg); !facts.Empty() {
		e.store.AttachFacts(id, facts.UserName, facts.Facts, facts.Topics)
	}

	if snap != nil {
		e.store.writeCreateRecord(ctx, snap)
	}
	return nil
}

// ContextString builds the prompt-ready rendering of the session: facts,
// topics, an optional summary of older turns, and the recent turns.
// Returns "" for sessions with no state. Never fails; degraded
// summarization falls back to a heuristic line.
func (e *Engine) ContextString(ctx context.Context, id string) string {
	return e.memory.BuildContext(ctx, id, e.store.Peek(id))
}

// ChatHistory returns the structured conversation view and its length.
func (e *Engine) ChatHistory(id string) ([]ChatMessage, int) {
	return e.memory.History(id)
}

// RecentExchanges returns the most recent n (user, assistant) pairs,
// oldest first.
func (e *Engine) RecentExchanges(id string, n int) []Exchange {
	return e.memory.Recent(id, n)
}
