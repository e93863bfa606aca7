package api

import (
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley/internal/session"
)

// statsHandler holds dependencies for the stats and admin endpoints.
type statsHandler struct {
	engine *session.Engine
	logger *slog.Logger
}

// getStats handles GET /api/v1/stats. Active is recomputed by scanning the
// table, so the call is not free; it is meant for dashboards, not hot paths.
func (h *statsHandler) getStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, h.engine.Stats())
}

// cleanup handles POST /api/v1/sessions/cleanup: an on-demand sweep of
// expired sessions, same pass the background sweeper runs on its interval.
func (h *statsHandler) cleanup(w http.ResponseWriter, _ *http.Request) {
	removed := h.engine.ClearExpired()
	if removed > 0 {
		h.logger.Info("manual cleanup removed sessions", "count", removed)
	}
	writeData(w, http.StatusOK, map[string]int{"removed": removed})
}
