package session

import "context"

// TurnRecord is the wire form of one appended turn. TurnID is generated
// once per append and reused across retry attempts, so the sink can
// deduplicate replayed writes on (session_id, turn_id).
type TurnRecord struct {
	TurnID        string    `json:"turn_id"`
	SessionID     string    `json:"session_id"`
	Index         int       `json:"index"` // zero-based turn index within the session
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Meta          *TurnMeta `json:"meta,omitempty"`
	CreatedAt     Timestamp `json:"created_at"`
}

// SessionRecord is the wire form of a session's aggregate state.
type SessionRecord struct {
	ID           string         `json:"id"`
	UserName     string         `json:"user_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	TurnCount    int            `json:"turn_count"`
	CreatedAt    Timestamp      `json:"created_at"`
	LastAccessed Timestamp      `json:"last_accessed"`
}

// Sink receives the engine's durable writes. The engine never reads back:
// the sink is an opaque write target, fallible on every call.
//
// The interface is defined here, on the consumer side; internal/sink
// provides the PostgreSQL implementation and a retrying decorator.
type Sink interface {
	// SaveTurn persists one appended turn.
	SaveTurn(ctx context.Context, rec TurnRecord) error

	// UpdateStats upserts the session's aggregate record.
	UpdateStats(ctx context.Context, rec SessionRecord) error
}

// record converts a session snapshot to its sink wire form.
func (s *Session) record() SessionRecord {
	return SessionRecord{
		ID:           s.ID,
		UserName:     s.UserName,
		Metadata:     s.Metadata,
		TurnCount:    s.TurnCount,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
	}
}
