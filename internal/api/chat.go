package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// maxChatMessageLength is the maximum allowed chat message length in bytes.
const maxChatMessageLength = 10000

// simulationPrefix marks replies produced without a model. Kept stable so
// clients and tests can detect simulation mode.
const simulationPrefix = "echo: "

// Responder produces the assistant reply for one chat turn, given the
// session's prompt-ready context block and the user message.
// Implemented by llm.Client; nil enables simulation mode.
type Responder interface {
	Respond(ctx context.Context, sessionContext, message string) (string, error)
}

// chatHandler holds dependencies for the chat endpoint.
type chatHandler struct {
	engine    *session.Engine
	responder Responder
	logger    *slog.Logger
}

// chatRequest is the body of POST /api/v1/chat. SessionID is optional:
// absent, unknown, or expired IDs all get a session transparently.
type chatRequest struct {
	SessionID string         `json:"sessionId"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// chatResponse is the reply payload. Restarted reports that the supplied
// session no longer existed and a replacement was created, so the client
// knows earlier context is gone.
type chatResponse struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Restarted bool   `json:"restarted,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

// send handles POST /api/v1/chat.
//
// The turn is atomic from the client's view: a reply is returned only
// after the exchange is recorded, and a failed append leaves the session
// exactly as it was (502 turn_failed, safe to retry).
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}
	if req.Message == "" {
		WriteError(w, http.StatusBadRequest, "message_required", "message is required", h.logger)
		return
	}
	if len(req.Message) > maxChatMessageLength {
		WriteError(w, http.StatusRequestEntityTooLarge, "message_too_long", "message must be 10000 characters or fewer", h.logger)
		return
	}
	if len(req.SessionID) > maxSessionIDLength {
		WriteError(w, http.StatusBadRequest, "invalid_id", "session ID too long", h.logger)
		return
	}

	ctx := r.Context()
	sid, restarted := h.resolveSession(ctx, req)

	// Build the context before this turn is appended; the model receives
	// the current message separately.
	contextBlock := h.engine.ContextString(ctx, sid)

	reply, meta, err := h.generate(ctx, contextBlock, req.Message)
	if err != nil {
		h.logger.Error("generating chat reply", "error", err, "session_id", sid)
		WriteError(w, http.StatusBadGateway, "generation_failed", "reply generation failed", h.logger)
		return
	}

	if err := h.engine.AddTurn(ctx, sid, req.Message, reply, meta); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			// The session expired between resolution and append.
			WriteError(w, http.StatusNotFound, "not_found", "session expired during turn", h.logger)
		case errors.Is(err, session.ErrAppendPersistence):
			h.logger.Error("persisting chat turn", "error", err, "session_id", sid)
			WriteError(w, http.StatusBadGateway, "turn_failed", "turn could not be persisted, session unchanged", h.logger)
		default:
			h.logger.Error("recording chat turn", "error", err, "session_id", sid)
			WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		}
		return
	}

	writeData(w, http.StatusOK, chatResponse{
		SessionID: sid,
		Reply:     reply,
		Restarted: restarted,
		Simulated: h.responder == nil,
	})
}

// resolveSession returns a live session ID for the request, creating one
// when needed. A stale client ID is re-requested on creation, so clients
// usually keep their handle across a restart.
func (h *chatHandler) resolveSession(ctx context.Context, req chatRequest) (id string, restarted bool) {
	if req.SessionID == "" {
		return h.engine.CreateSession(ctx, "", req.Metadata).ID, false
	}

	if res := h.engine.GetSession(req.SessionID, nil); res.Valid {
		return req.SessionID, false
	}

	created := h.engine.CreateSession(ctx, req.SessionID, req.Metadata)
	h.logger.Debug("chat session restarted",
		"requested_id", req.SessionID,
		"assigned_id", created.ID,
	)
	return created.ID, true
}

// generate produces the assistant reply and its turn stats. With no
// responder configured the reply is an echo, which keeps the full session
// lifecycle exercisable without a model.
func (h *chatHandler) generate(ctx context.Context, contextBlock, message string) (string, *session.TurnMeta, error) {
	if h.responder == nil {
		return simulationPrefix + message, &session.TurnMeta{Model: "simulation"}, nil
	}

	start := time.Now()
	reply, err := h.responder.Respond(ctx, contextBlock, message)
	if err != nil {
		return "", nil, err
	}
	return reply, &session.TurnMeta{
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
