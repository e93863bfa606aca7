// Package sink persists session records and conversation turns to
// PostgreSQL. The contract it implements is [session.Sink], defined on the
// consumer side; Postgres is the implementation and Retry the decorator
// that adds the append path's write policy.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertTurnSQL is a plain INSERT on the turn's primary key. The append
// path reuses one turn ID across retry attempts, so replaying a write that
// actually committed violates the key; Retry maps that to success.
const insertTurnSQL = `INSERT INTO turns (id, session_id, turn_index, user_text, assistant_text, meta, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// upsertSessionSQL refreshes the session's aggregate row. created_at is
// written once; later refreshes only move the mutable columns.
const upsertSessionSQL = `INSERT INTO sessions (id, user_name, metadata, turn_count, created_at, last_accessed)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		user_name = EXCLUDED.user_name,
		metadata = EXCLUDED.metadata,
		turn_count = EXCLUDED.turn_count,
		last_accessed = EXCLUDED.last_accessed`

// Postgres writes session records and turns to PostgreSQL.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	db     querier
	logger log.Logger
}

// NewPostgres creates a PostgreSQL sink.
func NewPostgres(db querier, logger log.Logger) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}, nil
}

// SaveTurn inserts one turn row.
func (p *Postgres) SaveTurn(ctx context.Context, rec session.TurnRecord) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("marshaling turn meta: %w", err)
	}

	_, err = p.db.Exec(ctx, insertTurnSQL,
		rec.TurnID,
		rec.SessionID,
		rec.Index,
		rec.UserText,
		rec.AssistantText,
		meta,
		rec.CreatedAt.Time,
	)
	if err != nil {
		return fmt.Errorf("inserting turn %s/%d: %w", rec.SessionID, rec.Index, err)
	}

	p.logger.Debug("turn persisted", "session_id", rec.SessionID, "turn_index", rec.Index)
	return nil
}

// UpdateStats upserts the session's aggregate row.
func (p *Postgres) UpdateStats(ctx context.Context, rec session.SessionRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}

	var userName *string
	if rec.UserName != "" {
		userName = &rec.UserName
	}

	_, err = p.db.Exec(ctx, upsertSessionSQL,
		rec.ID,
		userName,
		metadata,
		rec.TurnCount,
		rec.CreatedAt.Time,
		rec.LastAccessed.Time,
	)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", rec.ID, err)
	}
	return nil
}
