// Package log builds the structured loggers the rest of parley injects.
//
// Every component takes a log.Logger through its constructor and narrows
// it with With("component", ...); nothing logs through a package-level
// default except early startup, before cmd has installed the configured
// logger via slog.SetDefault. New builds the process logger, NewWithWriter
// redirects output for tests that assert on log lines, and NewNop
// silences components under test:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	engine, err := session.NewEngine(session.EngineConfig{
//		Logger: logger.With("component", "session"),
//		...
//	})
//
//	var buf bytes.Buffer
//	testLogger := log.NewWithWriter(&buf, log.Config{})
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so constructors can name the dependency
// without wrapping the stdlib type; With, groups, and levels all stay
// available to callers.
type Logger = *slog.Logger

// Config selects the handler built by New and NewWithWriter.
type Config struct {
	// Level is the minimum level emitted. The zero value is slog.LevelInfo.
	Level slog.Level

	// JSON switches from the text handler to the JSON handler. Serving
	// deployments want JSON; the text form reads better on a terminal.
	JSON bool

	// AddSource annotates records with file:line. Off by default.
	AddSource bool
}

// New returns a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test-only: the
// engine's absorbed-failure paths (creation writes, summarization) exist
// solely as log lines, so a production nop logger would erase the only
// evidence of a degraded sink.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
