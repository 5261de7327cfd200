package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /api/healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache,omitempty"`
}

// CacheChecker is the slice of the cache the health check touches.
type CacheChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// NewHealthHandler reports "ok", or "degraded" with 503 when the session
// cache cannot be reached. A nil checker skips the cache check.
func NewHealthHandler(c CacheChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		code := http.StatusOK
		if c != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if _, err := c.Exists(ctx, "healthz"); err != nil {
				resp.Status, resp.Cache, code = "degraded", "unreachable", http.StatusServiceUnavailable
			} else {
				resp.Cache = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
