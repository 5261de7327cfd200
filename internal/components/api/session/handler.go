// Package session implements the login, logout and current-user endpoints.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/auth"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// TTL is the lifetime of a login session.
const TTL = 7 * 24 * time.Hour

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login. Token doubles as a
// bearer credential for non-browser clients.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      *identity.User `json:"user"`
}

// Handler serves session endpoints.
type Handler struct {
	users         identity.UserRepo
	sessions      identity.SessionRepo
	auth          *identity.UserAuth
	secureCookies bool
	log           *slog.Logger
}

// NewHandler creates a session handler. secureCookies forces the Secure
// attribute even when TLS terminates at a proxy.
func NewHandler(users identity.UserRepo, sessions identity.SessionRepo, userAuth *identity.UserAuth, secureCookies bool, log *slog.Logger) *Handler {
	return &Handler{
		users:         users,
		sessions:      sessions,
		auth:          userAuth,
		secureCookies: secureCookies,
		log:           logutil.NoopIfNil(log),
	}
}

// HandleLogin handles POST /api/v1/auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "email and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.auth.Authenticate(ctx, h.users, req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidPassword) && !errors.Is(err, identity.ErrUserNotFound) {
			h.log.Error("login failed", "error", err)
		}
		api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid email or password")
		return
	}

	sess, err := h.sessions.Create(ctx, user.ID, TTL)
	if err != nil {
		h.log.Error("failed to create session", "user_id", user.ID, "error", err)
		api.WriteInternalError(w, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	h.log.Info("user logged in", "user_id", user.ID)
	api.WriteJSON(w, http.StatusOK, LoginResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: user})
}

// HandleLogout handles POST /api/v1/auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := auth.GetSessionFromContext(r.Context()); sess != nil {
		if err := h.sessions.Delete(r.Context(), sess.Token); err != nil {
			h.log.Warn("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMe handles GET /api/v1/auth/me.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	api.WriteJSON(w, http.StatusOK, user)
}
