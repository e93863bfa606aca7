package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

func TestStats(t *testing.T) {
	h, _, _ := newTestServer(t, nil)

	createTestSession(t, h, "")
	createTestSession(t, h, "")

	w := doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got session.Stats
	decodeDataEnvelope(t, w.Body.Bytes(), &got)

	if got.TotalCreated != 2 {
		t.Errorf("total_created = %d, want 2", got.TotalCreated)
	}
	if got.Active != 2 {
		t.Errorf("active = %d, want 2", got.Active)
	}
}

func TestCleanup(t *testing.T) {
	h, _, clk := newTestServer(t, nil)

	createTestSession(t, h, "old-1")
	createTestSession(t, h, "old-2")
	clk.Advance(31 * time.Minute)
	createTestSession(t, h, "fresh")

	w := doJSON(t, h, http.MethodPost, "/api/v1/sessions/cleanup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got map[string]int
	decodeDataEnvelope(t, w.Body.Bytes(), &got)
	if got["removed"] != 2 {
		t.Errorf("removed = %d, want 2", got["removed"])
	}

	// Only the fresh session remains resident.
	w = doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	var stats session.Stats
	decodeDataEnvelope(t, w.Body.Bytes(), &stats)
	if stats.Resident != 1 {
		t.Errorf("resident = %d, want 1 after cleanup", stats.Resident)
	}
}

func TestCleanup_NothingToRemove(t *testing.T) {
	h, _, _ := newTestServer(t, nil)

	w := doJSON(t, h, http.MethodPost, "/api/v1/sessions/cleanup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got map[string]int
	decodeDataEnvelope(t, w.Body.Bytes(), &got)
	if got["removed"] != 0 {
		t.Errorf("removed = %d, want 0", got["removed"])
	}
}
