// Package signup implements the public invite validation and account
// creation endpoints.
package signup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/api/session"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/auth"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// MinPasswordLength is enforced on new accounts.
const MinPasswordLength = 8

// InviteRedeemer is the subset of the invite service signup needs.
type InviteRedeemer interface {
	Validate(ctx context.Context, code string) (*invites.Invite, error)
	Redeem(ctx context.Context, code string, user *identity.User) (*invites.Invite, error)
}

// Notifier hands events to the notification dispatcher.
type Notifier interface {
	SendNotification(typ notifications.Type, p notifications.Payload)
}

// ValidateResponse is returned by the validate endpoint.
type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Request is the request body for POST /api/v1/signup.
type Request struct {
	ICode       string `json:"icode"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Response is returned on successful signup.
type Response struct {
	User  *identity.User `json:"user"`
	Token string         `json:"token"`
}

// Handler serves signup endpoints.
type Handler struct {
	users              identity.UserRepo
	userAuth           *identity.UserAuth
	sessions           identity.SessionRepo
	invites            InviteRedeemer
	notifier           Notifier
	defaultPermissions permissions.Permission
	secureCookies      bool
	log                *slog.Logger
}

// NewHandler creates a signup handler. New accounts receive defaultPerms.
func NewHandler(
	users identity.UserRepo,
	userAuth *identity.UserAuth,
	sessions identity.SessionRepo,
	inv InviteRedeemer,
	notifier Notifier,
	defaultPerms permissions.Permission,
	secureCookies bool,
	log *slog.Logger,
) *Handler {
	return &Handler{
		users:              users,
		userAuth:           userAuth,
		sessions:           sessions,
		invites:            inv,
		notifier:           notifier,
		defaultPermissions: defaultPerms,
		secureCookies:      secureCookies,
		log:                logutil.NoopIfNil(log),
	}
}

// inviteProblem maps an invite validation error to a status and message.
func inviteProblem(err error) (int, string) {
	switch {
	case errors.Is(err, invites.ErrNotFound):
		return http.StatusNotFound, "Invite code not found."
	case errors.Is(err, invites.ErrNotActive):
		return http.StatusBadRequest, "Invite code is not active."
	case errors.Is(err, invites.ErrExpired):
		return http.StatusBadRequest, "Invite code has expired."
	case errors.Is(err, invites.ErrUsageExhausted):
		return http.StatusBadRequest, "Invite code has reached its usage limit."
	}
	return http.StatusInternalServerError, "Failed to validate invite code."
}

// HandleValidate handles GET /api/v1/signup/validate?icode=.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("icode"))
	if code == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "icode is required")
		return
	}

	if _, err := h.invites.Validate(r.Context(), code); err != nil {
		status, msg := inviteProblem(err)
		if status == http.StatusInternalServerError {
			h.log.Error("invite validation failed", "error", err)
		}
		api.WriteJSON(w, status, ValidateResponse{Valid: false, Message: msg})
		return
	}
	api.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: true, Message: "Invite code is valid."})
}

// HandleSignup handles POST /api/v1/signup. The account is created only
// when the invite redeems; a failed redemption removes it again.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	req.ICode = strings.TrimSpace(req.ICode)
	if req.ICode == "" || req.Email == "" || req.Password == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "icode, email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, "email is not a valid address")
		return
	}
	if len(req.Password) < MinPasswordLength {
		api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		return
	}

	ctx := r.Context()
	if _, err := h.invites.Validate(ctx, req.ICode); err != nil {
		h.writeInviteError(w, err)
		return
	}

	hash, err := h.userAuth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("failed to hash password", "error", err)
		api.WriteInternalError(w, "failed to create account")
		return
	}
	user := &identity.User{
		Email:        req.Email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Permissions:  h.defaultPermissions,
	}
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			api.WriteConflict(w, "an account with this email already exists")
			return
		}
		h.log.Error("failed to create user", "error", err)
		api.WriteInternalError(w, "failed to create account")
		return
	}

	if _, err := h.invites.Redeem(ctx, req.ICode, user); err != nil {
		if delErr := h.users.Delete(ctx, user.ID); delErr != nil {
			h.log.Error("failed to remove account after failed redemption", "user_id", user.ID, "error", delErr)
		}
		h.writeInviteError(w, err)
		return
	}

	h.log.Info("user signed up", "user_id", user.ID, "icode", req.ICode)
	h.notifier.SendNotification(notifications.UserCreated, notifications.Payload{
		Subject:        "New User",
		Message:        fmt.Sprintf("%s has joined using invite code %s.", user.Name(), req.ICode),
		NotifyAdmin:    true,
		NotifySystem:   true,
		ActionURL:      "/admin/users",
		ActionURLTitle: "View Users",
		Severity:       notifications.SeverityInfo,
		CreatedBy:      user,
	})

	resp := Response{User: user}
	if sess, err := h.sessions.Create(ctx, user.ID, session.TTL); err != nil {
		h.log.Warn("failed to create session for new user", "user_id", user.ID, "error", err)
	} else {
		resp.Token = sess.Token
		http.SetCookie(w, &http.Cookie{
			Name:     auth.SessionCookie,
			Value:    sess.Token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookies || r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	api.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) writeInviteError(w http.ResponseWriter, err error) {
	status, msg := inviteProblem(err)
	switch status {
	case http.StatusNotFound:
		api.WriteNotFound(w, msg)
	case http.StatusBadRequest:
		api.WriteBadRequest(w, api.ReasonInviteInvalid, msg)
	default:
		h.log.Error("invite redemption failed", "error", err)
		api.WriteInternalError(w, msg)
	}
}
