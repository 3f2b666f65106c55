package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	wsadapter "learnledger/adapters/websocket"
	"learnledger/catalog"
	"learnledger/core"
	"learnledger/engine"
	"learnledger/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// AdminRole is the X-User-Role header value required for /admin routes (default "admin").
	AdminRole string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
}

// eventRequest is the body of POST /users/{id}/events.
type eventRequest struct {
	Kind       core.ActionKind `json:"kind"`
	Outcome    core.Outcome    `json:"outcome,omitempty"`
	Magnitude  int64           `json:"magnitude,omitempty"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
}

// NewMux builds an http.Handler exposing the learning ledger REST API and WebSocket stream.
// Routes:
//   - POST  {prefix}/users/{id}/events
//   - GET   {prefix}/users/{id}/progress
//   - GET   {prefix}/users/{id}/grants
//   - GET   {prefix}/users/{id}/achievements
//   - GET   {prefix}/rewards
//   - GET   {prefix}/admin/points
//   - PUT   {prefix}/admin/points
//   - POST  {prefix}/admin/rewards
//   - PATCH {prefix}/admin/rewards/{id}
//   - POST  {prefix}/admin/rewards/{id}/disable
//   - GET   {prefix}/healthz
//   - WS    {prefix}/ws
func NewMux(svc *engine.Dispatcher, table *core.PointTable, cat *catalog.Catalog, hub *realtime.Hub, opts Options) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	// Reward catalog (read-only)
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/rewards"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		writeJSON(w, cat.ListActive())
	})

	// Users API
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, opts.PathPrefix)
		parts := split(path, '/')
		if len(parts) < 3 {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		user, err := core.NormalizeUserID(core.UserID(parts[1]))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		switch {
		case r.Method == http.MethodPost && parts[2] == "events":
			var req eventRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
				return
			}
			result, err := svc.Record(r.Context(), user, core.ActionEvent{
				Kind:       req.Kind,
				Outcome:    req.Outcome,
				Magnitude:  req.Magnitude,
				OccurredAt: req.OccurredAt,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, result)
		case r.Method == http.MethodGet && parts[2] == "progress":
			stats, err := svc.Progress(r.Context(), user)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, stats)
		case r.Method == http.MethodGet && parts[2] == "grants":
			grants, err := svc.Grants(r.Context(), user)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, grants)
		case r.Method == http.MethodGet && parts[2] == "achievements":
			achievements, err := svc.Achievements(r.Context(), user)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, achievements)
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})

	// Admin API
	adminRole := opts.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	admin := http.NewServeMux()
	admin.HandleFunc(withPrefix(opts.PathPrefix, "/admin/points"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, table.Snapshot())
		case http.MethodPut:
			var values map[core.ActionKind]float64
			if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
				return
			}
			if err := table.Replace(values); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, table.Snapshot())
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})
	admin.HandleFunc(withPrefix(opts.PathPrefix, "/admin/rewards"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, cat.ListAll())
		case http.MethodPost:
			var def core.RewardDefinition
			if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
				return
			}
			if err := cat.Create(def); err != nil {
				writeDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]any{"ok": true, "id": def.ID})
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})
	admin.HandleFunc(withPrefix(opts.PathPrefix, "/admin/rewards/"), func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, opts.PathPrefix)
		parts := split(path, '/')
		if len(parts) < 3 {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
			return
		}
		id := core.RewardID(parts[2])
		switch {
		case r.Method == http.MethodPatch && len(parts) == 3:
			var def core.RewardDefinition
			if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body", nil)
				return
			}
			def.ID = id
			if err := cat.Update(def); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "disable":
			if err := cat.Disable(id); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		}
	})
	mux.Handle(withPrefix(opts.PathPrefix, "/admin/"), withAdminRole(admin, adminRole))

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

// Helpers

// healthCheck verifies the service is working properly
func healthCheck(w http.ResponseWriter, r *http.Request, svc *engine.Dispatcher) {
	ctx := r.Context()

	// Probing a synthetic user exercises the storage path without touching real data.
	dummyUser := core.UserID("healthcheck_probe")
	_, err := svc.Progress(ctx, dummyUser)

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	if err != nil && !errors.Is(err, core.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	} else {
		w.WriteHeader(http.StatusOK)
	}

	writeJSON(w, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// writeDomainError maps ledger sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-Role")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAdminRole gates a handler on the X-User-Role header.
func withAdminRole(next http.Handler, role string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Role") != role {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm int, burst int) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}
