package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records Exec calls and fails on demand.
type fakeDB struct {
	mu    sync.Mutex
	execs []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeDB) calls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.execs...)
}

func TestNewPostgres_NilDB(t *testing.T) {
	_, err := NewPostgres(nil, nil)
	if err == nil {
		t.Fatal("NewPostgres(nil) error = nil, want error")
	}
	if !strings.Contains(err.Error(), "database handle is required") {
		t.Errorf("NewPostgres(nil) error = %q, want contains %q", err, "database handle is required")
	}
}

func TestPostgresSaveTurn(t *testing.T) {
	db := &fakeDB{}
	p, err := NewPostgres(db, log.NewNop())
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := session.TurnRecord{
		TurnID:        "9f1b3a52-0000-4000-8000-000000000001",
		SessionID:     "s1",
		Index:         4,
		UserText:      "ping",
		AssistantText: "pong",
		Meta:          &session.TurnMeta{Tokens: 7},
		CreatedAt:     session.NewTimestamp(now),
	}
	if err := p.SaveTurn(context.Background(), rec); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	calls := db.calls()
	if len(calls) != 1 {
		t.Fatalf("Exec called %d times, want 1", len(calls))
	}
	if !strings.Contains(calls[0].sql, "INSERT INTO turns") {
		t.Errorf("SQL = %q, want turn insert", calls[0].sql)
	}
	if got := calls[0].args[0]; got != rec.TurnID {
		t.Errorf("arg[0] = %v, want turn ID %q", got, rec.TurnID)
	}
	if got := calls[0].args[2]; got != 4 {
		t.Errorf("arg[2] = %v, want index 4", got)
	}
	meta, ok := calls[0].args[5].([]byte)
	if !ok || !strings.Contains(string(meta), `"tokens":7`) {
		t.Errorf("arg[5] = %v, want JSON meta with tokens", calls[0].args[5])
	}
	if got := calls[0].args[6]; got != now {
		t.Errorf("arg[6] = %v, want %v", got, now)
	}
}

func TestPostgresSaveTurn_NilMeta(t *testing.T) {
	db := &fakeDB{}
	p, _ := NewPostgres(db, log.NewNop())

	rec := session.TurnRecord{TurnID: "t1", SessionID: "s1"}
	if err := p.SaveTurn(context.Background(), rec); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	meta, ok := db.calls()[0].args[5].([]byte)
	if !ok || string(meta) != "null" {
		t.Errorf("arg[5] = %q, want JSON null for absent meta", meta)
	}
}

func TestPostgresSaveTurn_WrapsError(t *testing.T) {
	dbErr := errors.New("connection refused")
	p, _ := NewPostgres(&fakeDB{err: dbErr}, log.NewNop())

	err := p.SaveTurn(context.Background(), session.TurnRecord{TurnID: "t1", SessionID: "s1"})
	if !errors.Is(err, dbErr) {
		t.Errorf("SaveTurn() error = %v, want wrapped %v", err, dbErr)
	}
}

func TestPostgresUpdateStats(t *testing.T) {
	db := &fakeDB{}
	p, _ := NewPostgres(db, log.NewNop())

	rec := session.SessionRecord{
		ID:        "s1",
		UserName:  "Alice",
		Metadata:  map[string]any{"channel": "web"},
		TurnCount: 3,
	}
	if err := p.UpdateStats(context.Background(), rec); err != nil {
		t.Fatalf("UpdateStats() error = %v", err)
	}

	calls := db.calls()
	if len(calls) != 1 {
		t.Fatalf("Exec called %d times, want 1", len(calls))
	}
	if !strings.Contains(calls[0].sql, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("SQL = %q, want session upsert", calls[0].sql)
	}
	name, ok := calls[0].args[1].(*string)
	if !ok || name == nil || *name != "Alice" {
		t.Errorf("arg[1] = %v, want *string Alice", calls[0].args[1])
	}
	if got := calls[0].args[3]; got != 3 {
		t.Errorf("arg[3] = %v, want turn count 3", got)
	}
}

func TestPostgresUpdateStats_EmptyNameIsNull(t *testing.T) {
	db := &fakeDB{}
	p, _ := NewPostgres(db, log.NewNop())

	if err := p.UpdateStats(context.Background(), session.SessionRecord{ID: "s1"}); err != nil {
		t.Fatalf("UpdateStats() error = %v", err)
	}

	name, ok := db.calls()[0].args[1].(*string)
	if !ok || name != nil {
		t.Errorf("arg[1] = %v, want nil *string for empty name", db.calls()[0].args[1])
	}
}
