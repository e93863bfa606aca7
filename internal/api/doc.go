// Package api provides the JSON REST API server for parley.
//
// # Architecture
//
// The API server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unthrottled.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health — returns {"status":"ok"}
//   - GET /ready  — pings the database; memory-only mode is always ready
//
// Session lifecycle:
//   - POST   /api/v1/sessions                 — create session (requested ID optional)
//   - GET    /api/v1/sessions/{id}            — get session, renews idle clock
//   - DELETE /api/v1/sessions/{id}            — delete session (idempotent)
//   - GET    /api/v1/sessions/{id}/history    — structured chat history
//   - GET    /api/v1/sessions/{id}/exchanges  — recent (user, assistant) pairs
//   - GET    /api/v1/sessions/{id}/context    — prompt-ready context block
//
// Chat:
//   - POST /api/v1/chat — one turn: resolve or create the session, generate
//     the reply, record the exchange. Without a configured Responder the
//     endpoint echoes (simulation mode).
//
// Stats and admin:
//   - GET  /api/v1/stats            — session table counters
//   - POST /api/v1/sessions/cleanup — on-demand expiry sweep
//
// # Session lifetime over HTTP
//
// A session that exists answers 200. A session that just expired answers
// 410 exactly once, deleting it in the same call; afterwards it answers
// 404 like any unknown ID. Clients treat 410 as "start over with context
// lost" and 404 as "bad reference".
//
// # Error Handling
//
// All /api/v1 responses use an envelope format:
//
//	Success: {"data": <payload>}
//	Error:   {"error": {"code": "...", "message": "...", "status": ...}}
//
// # Security
//
// The middleware stack enforces:
//   - Per-IP rate limiting (token bucket)
//   - CORS with explicit origin allowlist
//   - Security headers (CSP, HSTS, X-Frame-Options, etc.)
//
// The API carries no user identity; deployments front it with their own
// authenticating proxy.
package api
