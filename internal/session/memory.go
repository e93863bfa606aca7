package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/parleyhq/parley/internal/log"
)

// DefaultMaxExchanges bounds the conversation window when no explicit
// configuration is supplied.
const DefaultMaxExchanges = 10

// window holds one session's bounded conversation: the alternating
// user/assistant messages and the per-turn stats, trimmed in lockstep.
//
// The mutex is a data lock only. It protects slice headers during
// mutation and copy; it is never held across sink I/O. Serialization of
// whole append transactions is the job of the lockTable mutex.
type window struct {
	mu    sync.RWMutex
	msgs  []Message
	metas []*TurnMeta // one per turn; nil when the caller sent no stats
	turns int         // total turns ever appended, monotonic
}

// memShard owns one slice of the window table.
type memShard struct {
	mu      sync.RWMutex
	windows map[string]*window
}

// MemoryConfig configures a [Memory].
type MemoryConfig struct {
	// MaxExchanges bounds the window in (user, assistant) pairs.
	// Defaults to DefaultMaxExchanges when not positive.
	MaxExchanges int

	// Durable enables the strict sink write on append. When false the
	// window is memory-only and Append cannot fail.
	Durable bool

	// Sink receives strict turn writes. The configured value is expected
	// to carry its own retry policy (see internal/sink.Retry); Memory
	// calls it once per append and rolls back on error.
	Sink Sink

	// Summarizer condenses older turns for context building. Optional;
	// when nil (or SummaryTrigger is 0) contexts render without summaries.
	Summarizer Summarizer

	// SummaryTrigger is the turn count above which context building
	// consults the summarizer.
	SummaryTrigger int

	// SummaryCacheTTL and SummaryCacheSize bound the summary cache.
	SummaryCacheTTL  time.Duration
	SummaryCacheSize int

	// Clock overrides the time source. Optional, defaults to time.Now.
	Clock Clock

	// Logger is the structured logger. Optional, defaults to slog.Default().
	Logger log.Logger
}

// Summarizer condenses a conversation transcript into a short text.
// Failures are absorbed by the caller with a heuristic fallback.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, transcript string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// Memory is the conversation window table: per-session bounded message
// sequences plus the summary cache. Safe for concurrent use.
type Memory struct {
	shards       [shardCount]memShard
	locks        lockTable
	maxExchanges int
	durable      bool
	sink         Sink
	summarizer   Summarizer
	trigger      int
	cache        *summaryCache
	group        singleflight.Group
	clock        Clock
	logger       log.Logger
}

// NewMemory creates a conversation window table.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxExchanges < 1 {
		cfg.MaxExchanges = DefaultMaxExchanges
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Memory{
		maxExchanges: cfg.MaxExchanges,
		durable:      cfg.Durable,
		sink:         cfg.Sink,
		summarizer:   cfg.Summarizer,
		trigger:      cfg.SummaryTrigger,
		cache:        newSummaryCache(cfg.SummaryCacheSize, cfg.SummaryCacheTTL, cfg.Clock),
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*window)
	}
	return m
}

// Create allocates the window for a session. Appending also allocates
// lazily; Create exists so the facade can keep store and memory lifecycles
// symmetric.
func (m *Memory) Create(id string) {
	m.getWindow(id, true)
}

// Delete frees the window, its append lock, and any cached summaries.
// Idempotent. The lock entry goes first: dropping it waits for any
// in-flight append transaction, so a turn mid-persist completes before
// its window is removed and can never bleed into a re-created session.
func (m *Memory) Delete(id string) {
	m.locks.drop(id)

	shard := &m.shards[shardIndex(id)]
	shard.mu.Lock()
	delete(shard.windows, id)
	shard.mu.Unlock()

	m.cache.purgeSession(id)
}

// PruneOrphans drops windows whose session no longer exists according to
// alive. Orphans appear when an append races a concurrent expiry; sweeps
// call this so they cannot accumulate. Returns the IDs dropped.
func (m *Memory) PruneOrphans(alive func(id string) bool) []string {
	var dropped []string
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for id := range shard.windows {
			if !alive(id) {
				delete(shard.windows, id)
				dropped = append(dropped, id)
			}
		}
		shard.mu.Unlock()
	}

	for _, id := range dropped {
		m.locks.drop(id)
		m.cache.purgeSession(id)
	}
	return dropped
}

// PruneSummaries evicts summary cache entries past their TTL and returns
// the count removed.
func (m *Memory) PruneSummaries() int {
	return m.cache.removeExpired()
}

// getWindow returns the window for id, optionally creating it.
func (m *Memory) getWindow(id string, create bool) *window {
	shard := &m.shards[shardIndex(id)]

	shard.mu.RLock()
	w := shard.windows[id]
	shard.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if w = shard.windows[id]; w == nil {
		w = &window{}
		shard.windows[id] = w
	}
	return w
}

// Append records one (user, assistant) turn.
//
// The whole transaction runs under the session's append lock: append both
// entries, trim the oldest past the window bound, and, when durable writes
// are enabled, persist the turn through the sink. If the sink still fails
// after its own retries, the append is rolled back entry-for-entry
// (including restoring anything the trim evicted) and the error is
// surfaced wrapped in [ErrAppendPersistence]. The in-memory window never
// diverges from "turn not recorded".
//
// Concurrent appends to the same session serialize; appends to different
// sessions proceed in parallel.
func (m *Memory) Append(ctx context.Context, id, userMsg, assistantMsg string, meta *TurnMeta) error {
	mu := m.locks.acquire(id)
	defer mu.Unlock()

	w := m.getWindow(id, true)

	index, evictedMsgs, evictedMetas := w.push(userMsg, assistantMsg, meta, m.maxExchanges*2)

	if m.durable && m.sink != nil {
		rec := TurnRecord{
			TurnID:        uuid.NewString(),
			SessionID:     id,
			Index:         index,
			UserText:      userMsg,
			AssistantText: assistantMsg,
			Meta:          meta,
			CreatedAt:     NewTimestamp(m.clock()),
		}
		if err := m.sink.SaveTurn(ctx, rec); err != nil {
			w.unpush(evictedMsgs, evictedMetas)
			m.logger.Warn("turn persistence failed, rolled back",
				"session_id", id,
				"turn_index", index,
				"error", err)
			return fmt.Errorf("%w: %w", ErrAppendPersistence, err)
		}
	}

	return nil
}

// push appends a turn and trims to maxMsgs, returning the turn index and
// whatever the trim evicted (needed to undo the push exactly).
// Caller holds the append lock.
func (w *window) push(userMsg, assistantMsg string, meta *TurnMeta, maxMsgs int) (index int, evictedMsgs []Message, evictedMetas []*TurnMeta) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.msgs = append(w.msgs,
		Message{Role: RoleUser, Content: userMsg},
		Message{Role: RoleAssistant, Content: assistantMsg},
	)
	w.metas = append(w.metas, meta)

	if over := len(w.msgs) - maxMsgs; over > 0 {
		evictedMsgs = slices.Clone(w.msgs[:over])
		w.msgs = slices.Clone(w.msgs[over:])
		overTurns := over / 2
		evictedMetas = slices.Clone(w.metas[:overTurns])
		w.metas = slices.Clone(w.metas[overTurns:])
	}

	index = w.turns
	w.turns++
	return index, evictedMsgs, evictedMetas
}

// unpush reverts the most recent push: drops the appended turn and
// restores the evicted prefix. Caller holds the append lock.
func (w *window) unpush(evictedMsgs []Message, evictedMetas []*TurnMeta) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.msgs = append(evictedMsgs, w.msgs[:len(w.msgs)-2]...)
	w.metas = append(evictedMetas, w.metas[:len(w.metas)-1]...)
	w.turns--
}

// snapshot copies the window's messages and metas. Returns nils for a
// missing window.
func (m *Memory) snapshot(id string) ([]Message, []*TurnMeta) {
	w := m.getWindow(id, false)
	if w == nil {
		return nil, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.msgs), slices.Clone(w.metas)
}

// History returns the structured view of the window: each message zipped
// with the stats of its turn, plus the message count.
func (m *Memory) History(id string) ([]ChatMessage, int) {
	msgs, metas := m.snapshot(id)
	if len(msgs) == 0 {
		return nil, 0
	}

	out := make([]ChatMessage, 0, len(msgs))
	for i, msg := range msgs {
		var meta *TurnMeta
		if turn := i / 2; turn < len(metas) {
			meta = metas[turn]
		}
		out = append(out, ChatMessage{Role: msg.Role, Content: msg.Content, Meta: meta})
	}
	return out, len(out)
}

// Recent returns the most recent n (user, assistant) pairs, oldest first.
func (m *Memory) Recent(id string, n int) []Exchange {
	if n <= 0 {
		return nil
	}

	msgs, _ := m.snapshot(id)
	var pairs []Exchange
	for i := 0; i+1 < len(msgs); i += 2 {
		pairs = append(pairs, Exchange{User: msgs[i].Content, Assistant: msgs[i+1].Content})
	}
	if len(pairs) > n {
		pairs = pairs[len(pairs)-n:]
	}
	return pairs
}

// Len returns the window's current message count.
func (m *Memory) Len(id string) int {
	w := m.getWindow(id, false)
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.msgs)
}

// BuildContext renders a prompt-ready view of the session: user facts,
// topics, a summary of older turns when the conversation is long enough,
// and the recent turns verbatim.
//
// This read path never takes the append lock, so it stays available while
// a slow durable write is in flight and may observe a turn that a failing
// append later rolls back. Summaries are cached by (session, turn count);
// concurrent misses on one key are collapsed to a single LLM call, and an
// LLM failure degrades to a heuristic line, never an error.
func (m *Memory) BuildContext(ctx context.Context, id string, sess *Session) string {
	msgs, _ := m.snapshot(id)

	var b strings.Builder
	if sess != nil {
		writeFacts(&b, sess)
	}

	turnCount := len(msgs) / 2
	recentTurns := turnCount
	if m.summarizer != nil && m.trigger > 0 && turnCount > m.trigger {
		recentTurns = m.trigger
		older := msgs[:len(msgs)-recentTurns*2]
		if summary := m.summarize(ctx, id, turnCount, older); summary != "" {
			b.WriteString("Summary of earlier conversation: ")
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}

	if recentTurns > 0 {
		b.WriteString("Recent conversation:\n")
		for _, msg := range msgs[len(msgs)-recentTurns*2:] {
			b.WriteString(msg.Role)
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// writeFacts renders the session's extracted facts and topics.
func writeFacts(b *strings.Builder, sess *Session) {
	if sess.UserName != "" {
		fmt.Fprintf(b, "User name: %s\n", sess.UserName)
	}
	if len(sess.Facts) > 0 {
		b.WriteString("User facts:\n")
		for _, k := range slices.Sorted(maps.Keys(sess.Facts)) {
			fmt.Fprintf(b, "- %s: %s\n", k, sess.Facts[k])
		}
	}
	if len(sess.Topics) > 0 {
		fmt.Fprintf(b, "Topics discussed: %s\n", strings.Join(sess.Topics, ", "))
	}
}

// summarize returns the cached or freshly generated condensation of the
// older turns. Concurrent callers for the same (id, turnCount) share one
// generation; failure falls back to a heuristic.
func (m *Memory) summarize(ctx context.Context, id string, turnCount int, older []Message) string {
	key := summaryKey{sessionID: id, turnCount: turnCount}
	if text, ok := m.cache.get(key); ok {
		return text
	}

	v, _, _ := m.group.Do(key.flight(), func() (any, error) {
		// Re-check: a concurrent flight may have filled the cache between
		// our miss and the Do.
		if text, ok := m.cache.get(key); ok {
			return text, nil
		}

		text, err := m.summarizer.Summarize(ctx, transcript(older))
		if err != nil || strings.TrimSpace(text) == "" {
			if err != nil {
				m.logger.Warn("summarization failed, using heuristic",
					"session_id", id,
					"turn_count", turnCount,
					"error", err)
			}
			text = heuristicSummary(older)
		}
		m.cache.set(key, text)
		return text, nil
	})
	return v.(string)
}

// transcript renders messages as "role: content" lines for the summarizer.
func transcript(msgs []Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// heuristicSummary is the degraded-mode condensation: a single line naming
// what the user asked about, derived from the older user messages.
func heuristicSummary(older []Message) string {
	var topics []string
	for _, msg := range older {
		if msg.Role != RoleUser {
			continue
		}
		if topic := extractTopic(msg.Content); topic != "" && !containsFold(topics, topic) {
			topics = append(topics, topic)
		}
	}

	if len(topics) == 0 {
		for _, msg := range older {
			if msg.Role == RoleUser && strings.TrimSpace(msg.Content) != "" {
				topics = append(topics, truncate(strings.TrimSpace(msg.Content), 60))
				break
			}
		}
	}
	if len(topics) == 0 {
		return ""
	}
	return "user asked about: " + strings.Join(topics, ", ")
}
