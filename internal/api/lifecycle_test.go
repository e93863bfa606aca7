package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// TestConversationLifecycle walks the whole API surface the way a client
// would: open a conversation, hold it, inspect it, lose it to expiry.
func TestConversationLifecycle(t *testing.T) {
	h, _, clk := newTestServer(t, nil)

	// Open a conversation without a session: the first chat creates one.
	w := doJSON(t, h, http.MethodPost, "/api/v1/chat", map[string]string{
		"message": "my name is Grace",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("opening chat status = %d\nbody: %s", w.Code, w.Body.String())
	}
	var opened chatResponse
	decodeDataEnvelope(t, w.Body.Bytes(), &opened)
	sid := opened.SessionID
	if sid == "" {
		t.Fatal("opening chat returned no session ID")
	}

	// Continue it.
	for _, msg := range []string{"tell me about compilers", "thanks"} {
		w = doJSON(t, h, http.MethodPost, "/api/v1/chat", map[string]string{
			"sessionId": sid,
			"message":   msg,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("chat(%q) status = %d", msg, w.Code)
		}
		var cont chatResponse
		decodeDataEnvelope(t, w.Body.Bytes(), &cont)
		if cont.Restarted {
			t.Fatalf("chat(%q) restarted a live session", msg)
		}
	}

	// The session record reflects the conversation.
	w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session status = %d", w.Code)
	}
	var sess sessionResponse
	decodeDataEnvelope(t, w.Body.Bytes(), &sess)
	if sess.Session.TurnCount != 3 {
		t.Errorf("turn_count = %d, want 3", sess.Session.TurnCount)
	}
	if sess.Session.UserName != "Grace" {
		t.Errorf("user_name = %q, want %q", sess.Session.UserName, "Grace")
	}
	if len(sess.Session.Topics) == 0 {
		t.Error("topics empty, want the asked-about subject tracked")
	}

	// History holds all six messages in order.
	w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sid+"/history", nil)
	var hist struct {
		Messages []session.ChatMessage `json:"messages"`
		Count    int                   `json:"count"`
	}
	decodeDataEnvelope(t, w.Body.Bytes(), &hist)
	if hist.Count != 6 {
		t.Errorf("history count = %d, want 6", hist.Count)
	}

	// The context block carries the extracted identity and recent turns.
	w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sid+"/context", nil)
	var ctxBody map[string]string
	decodeDataEnvelope(t, w.Body.Bytes(), &ctxBody)
	if !strings.Contains(ctxBody["context"], "User name: Grace") {
		t.Errorf("context = %q, want the user name line", ctxBody["context"])
	}

	// Stats have seen exactly this one session.
	w = doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	var stats session.Stats
	decodeDataEnvelope(t, w.Body.Bytes(), &stats)
	if stats.TotalCreated != 1 || stats.Active != 1 {
		t.Errorf("stats = %+v, want total_created 1 and active 1", stats)
	}

	// Walk away past the TTL: the next read is the one 410, after that 404.
	clk.Advance(31 * time.Minute)
	if w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sid, nil); w.Code != http.StatusGone {
		t.Errorf("post-expiry read status = %d, want %d", w.Code, http.StatusGone)
	}
	if w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/"+sid, nil); w.Code != http.StatusNotFound {
		t.Errorf("second post-expiry read status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// A chat on the dead handle transparently starts over, keeping the ID.
	w = doJSON(t, h, http.MethodPost, "/api/v1/chat", map[string]string{
		"sessionId": sid,
		"message":   "hello again",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("post-expiry chat status = %d", w.Code)
	}
	var reopened chatResponse
	decodeDataEnvelope(t, w.Body.Bytes(), &reopened)
	if !reopened.Restarted {
		t.Error("post-expiry chat did not report restarted")
	}
	if reopened.SessionID != sid {
		t.Errorf("restarted session ID = %q, want %q kept", reopened.SessionID, sid)
	}
}
