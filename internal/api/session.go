package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley/internal/session"
)

// Request size and parameter bounds.
const (
	maxRequestBody     = 1 << 20 // 1MB
	maxSessionIDLength = 512
	exchangesDefaultN  = 5
	exchangesMaxN      = 50
)

// sessionHandler holds dependencies for the session CRUD endpoints.
type sessionHandler struct {
	engine *session.Engine
	logger *slog.Logger
}

// createRequest is the body of POST /api/v1/sessions. Both fields are
// optional: an empty body creates an anonymous session.
type createRequest struct {
	SessionID string         `json:"sessionId"`
	Metadata  map[string]any `json:"metadata"`
}

// sessionResponse wraps a session snapshot with its remaining lifetime.
type sessionResponse struct {
	Session   *session.Session `json:"session"`
	ExpiresIn int64            `json:"expiresIn"` // seconds
}

// create handles POST /api/v1/sessions.
//
// The assigned ID is authoritative: when the requested ID is already in
// use the engine substitutes a fresh one, so clients must read it back.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}
	if len(req.SessionID) > maxSessionIDLength {
		WriteError(w, http.StatusBadRequest, "invalid_id", "session ID too long", h.logger)
		return
	}

	res := h.engine.CreateSession(r.Context(), req.SessionID, req.Metadata)
	writeData(w, http.StatusCreated, res)
}

// get handles GET /api/v1/sessions/{id}. A hit renews the idle clock.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res := h.engine.GetSession(id, nil)
	if !res.Valid {
		writeInvalidSession(w, res.Reason, h.logger)
		return
	}

	writeData(w, http.StatusOK, sessionResponse{
		Session:   res.Session,
		ExpiresIn: int64(res.RemainingTTL.Seconds()),
	})
}

// delete handles DELETE /api/v1/sessions/{id}. Idempotent: deleting an
// unknown session succeeds.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	h.engine.DeleteSession(r.PathValue("id"))
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// history handles GET /api/v1/sessions/{id}/history.
func (h *sessionHandler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	msgs, count := h.engine.ChatHistory(id)
	if msgs == nil {
		msgs = []session.ChatMessage{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    count,
	})
}

// exchanges handles GET /api/v1/sessions/{id}/exchanges?n=5.
func (h *sessionHandler) exchanges(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	n := min(parseIntParam(r, "n", exchangesDefaultN), exchangesMaxN)
	ex := h.engine.RecentExchanges(id, n)
	if ex == nil {
		ex = []session.Exchange{}
	}
	writeData(w, http.StatusOK, map[string]any{"exchanges": ex})
}

// contextString handles GET /api/v1/sessions/{id}/context. The response is
// the prompt-ready block the chat endpoint feeds to the model, exposed so
// callers assembling their own prompts get the identical rendering.
func (h *sessionHandler) contextString(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	writeData(w, http.StatusOK, map[string]string{
		"context": h.engine.ContextString(r.Context(), id),
	})
}

// requireSession resolves {id} and renews the session, writing the
// 404/410 envelope when it is gone. Read endpoints share GetSession's
// renewal semantics: any API touch keeps a session alive.
func (h *sessionHandler) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")

	res := h.engine.GetSession(id, nil)
	if !res.Valid {
		writeInvalidSession(w, res.Reason, h.logger)
		return "", false
	}
	return id, true
}

// writeInvalidSession maps the engine's invalid-session reasons to HTTP:
// expired is 410 so clients can tell "start over" from "bad reference".
func writeInvalidSession(w http.ResponseWriter, reason session.Reason, logger *slog.Logger) {
	if reason == session.ReasonExpired {
		WriteError(w, http.StatusGone, "expired", "session expired", logger)
		return
	}
	WriteError(w, http.StatusNotFound, "not_found", "session not found", logger)
}
