package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nickelsh1ts/streamarr/internal/platform/appctx"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/realip"
)

// AccessLog writes one "request" line per request with status, bytes and
// duration_ms. Server errors log at error level. The request fields come
// from the context logger; base and proxies are the fallback when
// RequestLogger did not run.
func AccessLog(base *slog.Logger, proxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = base.With(requestAttrs(r, proxies)...)
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
