package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/session"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Engine      *session.Engine // Required
	Responder   Responder       // Optional: nil enables simulation mode
	Pool        *pgxpool.Pool   // Optional: nil reports memory-only mode in /ready
	CORSOrigins []string        // Allowed origins for CORS
	IsDev       bool            // Disables HSTS (plain HTTP in development)
	TrustProxy  bool            // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateRPS     float64         // Rate limiter refill per IP per second (0 = default 1.0)
	RateBurst   int             // Rate limiter burst size per IP (0 = default 60)

	// RateCleanupEvery and RateStaleAfter tune the limiter's inline sweep
	// of idle client buckets. Zero values take the limiter defaults.
	RateCleanupEvery time.Duration
	RateStaleAfter   time.Duration
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("session engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{engine: cfg.Engine, logger: logger}
	ch := &chatHandler{engine: cfg.Engine, responder: cfg.Responder, logger: logger}
	st := &statsHandler{engine: cfg.Engine, logger: logger}

	mux := http.NewServeMux()

	// Session CRUD and views
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", sh.history)
	mux.HandleFunc("GET /api/v1/sessions/{id}/exchanges", sh.exchanges)
	mux.HandleFunc("GET /api/v1/sessions/{id}/context", sh.contextString)

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)

	// Stats and admin sweep
	mux.HandleFunc("GET /api/v1/stats", st.getStats)
	mux.HandleFunc("POST /api/v1/sessions/cleanup", st.cleanup)

	// Rate limiter: per-IP token bucket
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(rps, burst, cfg.RateCleanupEvery, cfg.RateStaleAfter)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Wrap with security headers
	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
