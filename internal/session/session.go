package session

import (
	"maps"
	"slices"
	"time"
)

// Roles used in conversation windows.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one raw entry in a conversation window.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnMeta carries per-turn serving statistics supplied by the caller.
type TurnMeta struct {
	Tokens    int     `json:"tokens,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Model     string  `json:"model,omitempty"`
}

// ChatMessage is one structured history entry: a window message zipped with
// the stats of the turn it belongs to.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Meta    *TurnMeta `json:"meta,omitempty"`
}

// Exchange is one (user, assistant) pair.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Session is one conversation's record: identity, lifecycle timestamps,
// caller metadata, and facts extracted from user messages. The conversation
// text itself lives in [Memory], not here.
//
// Fields are mutated only under the owning store shard's lock; accessors
// return deep copies, so a Session held by a caller is a snapshot.
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    Timestamp         `json:"created_at"`
	UpdatedAt    Timestamp         `json:"updated_at"`
	LastAccessed Timestamp         `json:"last_accessed"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	UserName     string            `json:"user_name,omitempty"`
	Facts        map[string]string `json:"facts,omitempty"`
	Topics       []string          `json:"topics,omitempty"`
	TurnCount    int               `json:"turn_count"`
}

// clone returns a deep copy safe to hand out past the shard lock.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Metadata != nil {
		out.Metadata = maps.Clone(s.Metadata)
	}
	if s.Facts != nil {
		out.Facts = maps.Clone(s.Facts)
	}
	out.Topics = slices.Clone(s.Topics)
	return &out
}

// Clock supplies the current time. Production code uses time.Now; tests
// substitute a fake to drive TTL arithmetic.
type Clock func() time.Time
