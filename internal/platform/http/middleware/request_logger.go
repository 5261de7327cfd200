// Package middleware provides the always-on transport middleware.
package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nickelsh1ts/streamarr/internal/platform/appctx"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/realip"
)

// RequestLogger attaches a logger carrying request_id, method, path and
// client_ip to the request context. It must run after chi's RequestID.
func RequestLogger(base *slog.Logger, proxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := base.With(requestAttrs(r, proxies)...)
			next.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), reqLogger)))
		})
	}
}

func requestAttrs(r *http.Request, proxies *realip.TrustedProxies) []any {
	clientIP := "unknown"
	if proxies != nil {
		clientIP = proxies.GetClientIPString(r)
	}
	return []any{
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"client_ip", clientIP,
	}
}
