// Package session implements the concurrent conversation session engine.
//
// A session is an in-memory record of one conversation: identity, activity
// timestamps, caller metadata, and facts extracted from user messages. The
// conversation text itself lives in a bounded per-session window managed by
// [Memory]. The [Engine] facade composes both with summarization and
// expiry into the API the serving layer consumes.
//
// Key operations:
//
//   - Session lifecycle: [Engine.CreateSession], [Engine.GetSession], [Engine.DeleteSession]
//   - Conversation: [Engine.AddTurn], [Engine.ChatHistory], [Engine.RecentExchanges], [Engine.ContextString]
//   - Maintenance: [Engine.Stats], [Engine.ClearExpired], [Sweeper.Run]
//
// # Concurrency
//
// Session records and conversation windows are held in sharded maps (32
// shards, FNV-1a on the session ID) so per-ID operations serialize on the
// owning shard without a global lock. Conversation appends additionally
// take a per-session transaction mutex, created lazily in a [sync.Map],
// held across append, trim, durable write, and rollback; deleting a
// session waits for its in-flight transaction before retiring the mutex,
// so the per-session total order holds even across a delete and
// re-create of the same ID. Read paths
// (context building, history) never take the transaction mutex; they only
// copy under the window's data lock, so a reader may observe a turn that a
// failing append later rolls back. That asymmetry is intentional: reads
// stay available while a slow sink write is in flight.
//
// # Expiry
//
// Sessions expire after TTL idle time. Expiry is enforced lazily on access
// (an expired session is deleted and reported, never resurrected) and
// eagerly by [Sweeper], which also evicts the window and cached summaries.
//
// # Durability
//
// The engine treats persistence as a sink, not a source: writes flow out
// through [Sink], reads never come back. Session creation writes with a
// small time budget and swallows failures; turn appends write strictly and
// roll the window back when the sink (after its own retries) still fails.
package session
