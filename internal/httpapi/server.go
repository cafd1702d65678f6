// Package httpapi serves the relayjournal control API: health, sync status
// and a manual sync trigger behind HS256 bearer tokens.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agentworkforce/relayjournal/internal/journalsync"
)

const (
	ScopeSyncRead    = "sync:read"
	ScopeSyncTrigger = "sync:trigger"
)

// SyncService is the sync engine as the API sees it. *journalsync.Syncer
// implements it.
type SyncService interface {
	RunSyncCycle(ctx context.Context) (journalsync.Result, error)
	Status() journalsync.Status
}

// Queue accepts asynchronous sync requests. *journalsync.Runner implements it.
type Queue interface {
	Trigger() bool
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// CycleTimeout bounds a synchronous trigger. Zero means no bound beyond
	// the request context.
	CycleTimeout time.Duration
	Queue        Queue
}

type Server struct {
	service     SyncService
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(service SyncService, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		service:     service,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	var requiredScope string
	var route string
	switch {
	case r.URL.Path == "/v1/sync/status" && r.Method == http.MethodGet:
		requiredScope = ScopeSyncRead
		route = "sync_status"
	case r.URL.Path == "/v1/sync/trigger" && r.Method == http.MethodPost:
		requiredScope = ScopeSyncTrigger
		route = "sync_trigger"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	switch route {
	case "sync_status":
		writeJSON(w, http.StatusOK, s.service.Status())
	case "sync_trigger":
		if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
		s.handleSyncTrigger(w, r, correlationID)
	}
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request, correlationID string) {
	if parseBool(r.URL.Query().Get("async"), false) {
		if s.cfg.Queue == nil {
			writeError(w, http.StatusBadRequest, "bad_request", "asynchronous trigger is not available", correlationID)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued":        s.cfg.Queue.Trigger(),
			"correlationId": correlationID,
		})
		return
	}

	ctx := r.Context()
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}
	result, err := s.service.RunSyncCycle(ctx)
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	status, code := classifySyncError(err)
	body := map[string]any{
		"code":          code,
		"message":       err.Error(),
		"correlationId": correlationID,
	}
	if !errors.Is(err, journalsync.ErrCycleInProgress) {
		body["result"] = result
	}
	writeJSON(w, status, body)
}

func classifySyncError(err error) (int, string) {
	switch {
	case errors.Is(err, journalsync.ErrCycleInProgress):
		return http.StatusConflict, "cycle_in_progress"
	case errors.Is(err, journalsync.ErrFetchFailed):
		return http.StatusBadGateway, "fetch_failed"
	case errors.Is(err, journalsync.ErrConfiguration):
		return http.StatusInternalServerError, "configuration_error"
	case errors.Is(err, journalsync.ErrMergeFailed):
		return http.StatusInternalServerError, "merge_failed"
	case errors.Is(err, journalsync.ErrPersistenceFailed):
		return http.StatusInternalServerError, "persistence_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// getCorrelationID echoes X-Correlation-Id or mints one.
func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return "corr_" + hex.EncodeToString(buf[:])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
