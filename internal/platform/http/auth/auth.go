// Package auth provides the session gate and permission checks for HTTP
// handlers.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/platform/appctx"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// AuthGateConfig configures the session gate.
type AuthGateConfig struct {
	// RequireAuth reports whether a path needs a session. Built by the
	// server from route groups and each service's unprotected paths.
	RequireAuth func(path string) bool

	Log *slog.Logger

	Sessions identity.SessionRepo
	Users    identity.UserRepo
}

// NewAuthGate returns middleware that loads the session user for protected
// paths and rejects requests without a valid session. Unprotected paths
// still get the user attached when a valid token is presented, so public
// endpoints can tell who is calling.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	log := logutil.NoopIfNil(cfg.Log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required := cfg.RequireAuth(r.URL.Path)
			token := extractSessionToken(r)

			if token == "" {
				if required {
					api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			session, user, reason, err := resolve(r.Context(), cfg, log, token)
			if err != nil {
				if required {
					api.WriteUnauthorized(w, reason, err.Error())
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			ctx = context.WithValue(ctx, userContextKey, user)
			ctx = appctx.WithActorID(ctx, user.ID)
			ctx = appctx.WithLogger(ctx, appctx.GetLogger(ctx).With("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(ctx context.Context, cfg AuthGateConfig, log *slog.Logger, token string) (*identity.Session, *identity.User, string, error) {
	session, err := cfg.Sessions.Get(ctx, token)
	switch {
	case errors.Is(err, identity.ErrSessionExpired):
		return nil, nil, api.ReasonSessionExpired, errors.New("session has expired")
	case errors.Is(err, identity.ErrSessionNotFound):
		return nil, nil, api.ReasonUnauthenticated, errors.New("session not found or expired")
	case err != nil:
		log.Warn("session lookup failed", "error", err)
		return nil, nil, api.ReasonUnauthenticated, errors.New("session not found or expired")
	}
	if session.IsExpired() {
		return nil, nil, api.ReasonSessionExpired, errors.New("session has expired")
	}
	user, err := cfg.Users.Get(ctx, session.UserID)
	if err != nil {
		return nil, nil, api.ReasonUnauthenticated, errors.New("session user not found")
	}
	return session, user, "", nil
}

// extractSessionToken reads the session cookie, then a Bearer header.
func extractSessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequirePermission rejects users lacking the permissions with 403.
// Requests without a user get 401.
func RequirePermission(mode permissions.Mode, required ...permissions.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}
			if !permissions.Check(required, user.Permissions, mode) {
				api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have permission to access this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns ctx carrying user; handler tests use it to skip the gate.
func WithUser(ctx context.Context, user *identity.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return appctx.WithActorID(ctx, user.ID)
}

// GetSessionFromContext returns the request session, or nil.
func GetSessionFromContext(ctx context.Context) *identity.Session {
	s, _ := ctx.Value(sessionContextKey).(*identity.Session)
	return s
}

// GetUserFromContext returns the request user, or nil.
func GetUserFromContext(ctx context.Context) *identity.User {
	u, _ := ctx.Value(userContextKey).(*identity.User)
	return u
}
