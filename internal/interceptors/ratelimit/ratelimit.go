// Package ratelimit provides a fixed-window rate limiting interceptor
// backed by the cache counter.
package ratelimit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	svccfg "github.com/nickelsh1ts/streamarr/internal/frameworks/service/cfg"
	"github.com/nickelsh1ts/streamarr/internal/interceptors"
	"github.com/nickelsh1ts/streamarr/internal/platform/appctx"
	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

func init() {
	interceptors.Register("ratelimit", New)
}

// Config is one profile from [http.interceptors.ratelimit.profiles.<name>].
type Config struct {
	RequestsPerWindow int64 `mapstructure:"requests_per_window"`
	WindowSeconds     int   `mapstructure:"window_seconds"`

	// PerPath counts each request path separately, so a client hitting
	// signup does not use up its login budget.
	PerPath bool `mapstructure:"per_path"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *Config) ApplyDefaults() {
	if c.RequestsPerWindow == 0 {
		c.RequestsPerWindow = 100
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 60
	}
}

// Limiter counts requests per client key in fixed windows.
type Limiter struct {
	cache   cache.Counter
	keyFunc func(*http.Request) string
	perPath bool
	limit   int64
	window  time.Duration
	log     *slog.Logger
}

// New builds the interceptor from a profile config. Clients are keyed by
// their trusted-proxy-aware IP.
func New(conf map[string]any, log *slog.Logger) (interceptors.Middleware, error) {
	var c Config
	if err := svccfg.Decode(conf, &c); err != nil {
		return nil, err
	}

	d := deps.GetDeps()
	if d == nil || d.Cache == nil || d.RealIP == nil {
		return nil, errors.New("ratelimit: cache and realip deps are required")
	}

	limiter := &Limiter{
		cache:   d.Cache,
		keyFunc: d.RealIP.GetClientIPString,
		perPath: c.PerPath,
		limit:   c.RequestsPerWindow,
		window:  time.Duration(c.WindowSeconds) * time.Second,
		log:     logutil.NoopIfNil(log),
	}

	return limiter.Wrap, nil
}

func (l *Limiter) key(r *http.Request) string {
	k := "ratelimit:" + l.keyFunc(r)
	if l.perPath {
		k += ":" + r.URL.Path
	}
	return k
}

// Wrap is the middleware function that applies rate limiting. Cache
// failures let the request through.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, resetAt, err := l.cache.Increment(r.Context(), l.key(r), 1, l.window)
		if err != nil {
			l.log.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(l.limit-count, 0)
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > l.limit {
			retryAfter := max(int(time.Until(resetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			appctx.GetLogger(r.Context()).Info("rate limited", "path", r.URL.Path, "count", count)
			api.WriteTooManyRequests(w, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithKeyFunc returns a copy of the limiter keyed by fn.
func (l *Limiter) WithKeyFunc(fn func(*http.Request) string) *Limiter {
	c := *l
	c.keyFunc = fn
	return &c
}
