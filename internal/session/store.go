package session

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/log"
)

// storeShard owns one slice of the session table.
type storeShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// StoreConfig configures a [Store].
type StoreConfig struct {
	// TTL is the idle lifetime before a session expires. Required.
	TTL time.Duration

	// CreateWriteBudget bounds the best-effort sink write performed on
	// creation. Zero disables the write even when Sink is set.
	CreateWriteBudget time.Duration

	// Sink receives best-effort session record writes. Optional.
	Sink Sink

	// Clock overrides the time source. Optional, defaults to time.Now.
	Clock Clock

	// Logger is the structured logger. Optional, defaults to slog.Default().
	Logger log.Logger
}

// Store is the session table: sharded, TTL-expiring, safe for concurrent
// use. Expiry is lazy (on [Store.Get]) and eager (via [Store.SweepExpired]).
type Store struct {
	shards       [shardCount]storeShard
	ttl          time.Duration
	createBudget time.Duration
	sink         Sink
	clock        Clock
	logger       log.Logger

	created     atomic.Int64
	expiredTot  atomic.Int64
	cleanupRuns atomic.Int64

	// live is the create/delete gauge, floored at zero. Stats recomputes
	// the authoritative active count by scanning; this gauge is reported
	// for drift visibility only.
	live atomic.Int64
}

// Stats is a point-in-time view of the session table's counters.
type Stats struct {
	// TotalCreated counts every successful creation since process start.
	TotalCreated int64 `json:"total_created"`

	// Active counts sessions currently within TTL, recomputed by scanning
	// the table at call time.
	Active int `json:"active"`

	// Resident counts records in the table, including expired ones that
	// have not been swept yet.
	Resident int `json:"resident"`

	// TrackedActive is the create/delete gauge. May drift from Active
	// between sweeps; Active is authoritative.
	TrackedActive int64 `json:"tracked_active"`

	// ExpiredTotal counts sessions removed by lazy or swept expiry.
	ExpiredTotal int64 `json:"expired_total"`

	// CleanupRuns counts completed sweep passes.
	CleanupRuns int64 `json:"cleanup_runs"`
}

// NewStore creates a session table.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		ttl:          cfg.TTL,
		createBudget: cfg.CreateWriteBudget,
		sink:         cfg.Sink,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
	}
	return s
}

// Create registers a session and returns its snapshot.
//
// When requestedID is empty a fresh UUID is assigned. When requestedID is
// already taken the store silently substitutes a fresh UUID instead of
// rejecting; callers must read the assigned ID back from the result.
//
// After registration (outside the shard lock) the record is written to the
// sink under the configured budget; failure is logged and swallowed, so
// creation never fails because of the sink.
func (s *Store) Create(ctx context.Context, requestedID string, metadata map[string]any) *Session {
	now := s.clock()

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}

	var snap *Session
	for {
		shard := &s.shards[shardIndex(id)]
		shard.mu.Lock()
		if _, taken := shard.sessions[id]; taken {
			shard.mu.Unlock()
			s.logger.Debug("requested session id taken, substituting",
				"requested_id", id)
			id = uuid.NewString()
			continue
		}

		sess := &Session{
			ID:           id,
			CreatedAt:    NewTimestamp(now),
			UpdatedAt:    NewTimestamp(now),
			LastAccessed: NewTimestamp(now),
			Metadata:     maps.Clone(metadata),
		}
		shard.sessions[id] = sess
		s.created.Add(1)
		s.live.Add(1)
		snap = sess.clone()
		shard.mu.Unlock()
		break
	}

	s.writeCreateRecord(ctx, snap)

	s.logger.Debug("session created", "session_id", snap.ID)
	return snap
}

// writeCreateRecord performs the best-effort creation write.
func (s *Store) writeCreateRecord(ctx context.Context, snap *Session) {
	if s.sink == nil || s.createBudget <= 0 {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, s.createBudget)
	defer cancel()

	if err := s.sink.UpdateStats(wctx, snap.record()); err != nil {
		s.logger.Warn("session creation write failed",
			"session_id", snap.ID,
			"budget", s.createBudget,
			"error", err)
	}
}

// Get returns a snapshot of the session and its remaining TTL, renewing the
// idle clock and merging extra into the session metadata.
//
// Remaining TTL is measured before the renewal, so callers see how close
// the session was to expiry. An expired session is deleted as a side effect
// and reported as [ErrExpired]; it is never resurrected. A missing session
// is reported as [ErrNotFound].
func (s *Store) Get(id string, extra map[string]any) (*Session, time.Duration, error) {
	now := s.clock()
	shard := &s.shards[shardIndex(id)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok {
		return nil, 0, ErrNotFound
	}

	idle := now.Sub(sess.LastAccessed.Time)
	if idle > s.ttl {
		delete(shard.sessions, id)
		s.expiredTot.Add(1)
		s.decLive()
		s.logger.Debug("session expired on access",
			"session_id", id,
			"idle", idle)
		return nil, 0, ErrExpired
	}

	remaining := s.ttl - idle

	// last_accessed is monotonically non-decreasing while valid; a stale
	// clock never rewinds it.
	if now.After(sess.LastAccessed.Time) {
		sess.LastAccessed = NewTimestamp(now)
	}
	if len(extra) > 0 {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]any, len(extra))
		}
		maps.Copy(sess.Metadata, extra)
	}

	return sess.clone(), remaining, nil
}

// Peek returns a snapshot without renewing the idle clock and without
// expiry side effects. Returns nil for missing or expired sessions.
// Used by read-only paths such as context building.
func (s *Store) Peek(id string) *Session {
	now := s.clock()
	shard := &s.shards[shardIndex(id)]

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	sess, ok := shard.sessions[id]
	if !ok || now.Sub(sess.LastAccessed.Time) > s.ttl {
		return nil
	}
	return sess.clone()
}

// Has reports whether a record exists for id, expired or not. Used by
// sweep housekeeping to match windows against the table.
func (s *Store) Has(id string) bool {
	shard := &s.shards[shardIndex(id)]

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	_, ok := shard.sessions[id]
	return ok
}

// Touch renews the session's activity timestamps and increments its turn
// counter. Returns the updated snapshot, or nil when the session is absent.
func (s *Store) Touch(id string) *Session {
	now := s.clock()
	shard := &s.shards[shardIndex(id)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok {
		return nil
	}

	if now.After(sess.LastAccessed.Time) {
		sess.LastAccessed = NewTimestamp(now)
	}
	sess.UpdatedAt = NewTimestamp(now)
	sess.TurnCount++
	return sess.clone()
}

// AttachFacts merges extracted user facts into the session. Best-effort:
// attaching to a missing session is a no-op, never an error.
func (s *Store) AttachFacts(id, userName string, facts map[string]string, topics []string) {
	if userName == "" && len(facts) == 0 && len(topics) == 0 {
		return
	}

	shard := &s.shards[shardIndex(id)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	sess, ok := shard.sessions[id]
	if !ok {
		return
	}

	if userName != "" {
		sess.UserName = userName
	}
	if len(facts) > 0 {
		if sess.Facts == nil {
			sess.Facts = make(map[string]string, len(facts))
		}
		maps.Copy(sess.Facts, facts)
	}
	for _, topic := range topics {
		if !containsFold(sess.Topics, topic) {
			sess.Topics = append(sess.Topics, topic)
		}
	}
	if len(sess.Topics) > maxTrackedTopics {
		sess.Topics = sess.Topics[len(sess.Topics)-maxTrackedTopics:]
	}
}

// Delete removes the session. Idempotent: deleting a missing session is a
// no-op. Reports whether a record was removed.
func (s *Store) Delete(id string) bool {
	shard := &s.shards[shardIndex(id)]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.sessions[id]; !ok {
		return false
	}
	delete(shard.sessions, id)
	s.decLive()
	return true
}

// SweepExpired removes every session whose idle time exceeds TTL and
// returns the IDs removed. Counts as one cleanup run even when nothing was
// removed. Safe to call concurrently with all other operations.
func (s *Store) SweepExpired() []string {
	now := s.clock()
	var removed []string

	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for id, sess := range shard.sessions {
			if now.Sub(sess.LastAccessed.Time) > s.ttl {
				delete(shard.sessions, id)
				removed = append(removed, id)
			}
		}
		shard.mu.Unlock()
	}

	if n := len(removed); n > 0 {
		s.expiredTot.Add(int64(n))
		for range removed {
			s.decLive()
		}
	}
	s.cleanupRuns.Add(1)
	return removed
}

// Stats returns the table's counters. Active is recomputed by scanning
// records against TTL at call time; the create/delete gauge is reported
// alongside but never trusted for it.
func (s *Store) Stats() Stats {
	now := s.clock()
	var active, resident int

	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		resident += len(shard.sessions)
		for _, sess := range shard.sessions {
			if now.Sub(sess.LastAccessed.Time) <= s.ttl {
				active++
			}
		}
		shard.mu.RUnlock()
	}

	return Stats{
		TotalCreated:  s.created.Load(),
		Active:        active,
		Resident:      resident,
		TrackedActive: s.live.Load(),
		ExpiredTotal:  s.expiredTot.Load(),
		CleanupRuns:   s.cleanupRuns.Load(),
	}
}

// TTL returns the configured idle lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// decLive decrements the live gauge, floored at zero.
func (s *Store) decLive() {
	for {
		cur := s.live.Load()
		if cur <= 0 {
			return
		}
		if s.live.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
