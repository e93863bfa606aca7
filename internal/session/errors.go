package session

import "errors"

// Sentinel errors for session operations.
// These errors are part of the engine's public API and should be checked using errors.Is().
//
// Example:
//
//	snap, _, err := store.Get(ctx, id, nil)
//	if errors.Is(err, session.ErrNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired indicates the session exceeded its idle TTL and was removed.
	ErrExpired = errors.New("session expired")

	// ErrAppendPersistence indicates a turn could not be persisted to the
	// durable sink after retries. The in-memory window has been rolled back;
	// the caller may retry the whole turn.
	ErrAppendPersistence = errors.New("turn persistence failed")
)
