// Package users implements user management, quota, notification
// preference and push subscription endpoints.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// QuotaGetter computes a user's invite quota.
type QuotaGetter interface {
	Get(ctx context.Context, u *identity.User) (quota.Result, error)
}

// UpdateRequest is the body of PUT /api/v1/user/{userId}. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Username         *string                 `json:"username"`
	DisplayName      *string                 `json:"displayName"`
	Permissions      *permissions.Permission `json:"permissions"`
	InviteQuotaLimit *int                    `json:"inviteQuotaLimit"`
	InviteQuotaDays  *int                    `json:"inviteQuotaDays"`
}

// NotificationSettings is the body of the notification preferences
// endpoints.
type NotificationSettings struct {
	EmailEnabled      bool           `json:"emailEnabled"`
	WebPushEnabled    bool           `json:"webPushEnabled"`
	PGPKey            string         `json:"pgpKey,omitempty"`
	NotificationTypes map[string]int `json:"notificationTypes"`
}

// PushSubscriptionRequest is the body of POST /api/v1/user/registerPushSubscription.
type PushSubscriptionRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"userAgent"`
}

// Handler serves /api/v1/user.
type Handler struct {
	users       identity.UserRepo
	subs        identity.PushSubscriptionRepo
	quota       QuotaGetter
	settings    settings.Snapshot
	currentUser api.CurrentUser
	log         *slog.Logger
}

// NewHandler creates a users handler.
func NewHandler(
	users identity.UserRepo,
	subs identity.PushSubscriptionRepo,
	q QuotaGetter,
	s settings.Snapshot,
	currentUser api.CurrentUser,
	log *slog.Logger,
) *Handler {
	return &Handler{
		users:       users,
		subs:        subs,
		quota:       q,
		settings:    s,
		currentUser: currentUser,
		log:         logutil.NoopIfNil(log),
	}
}

// target resolves the actor and the {userId} user. Non-managers may only
// address themselves.
func (h *Handler) target(w http.ResponseWriter, r *http.Request, manage ...permissions.Permission) (actor, user *identity.User, ok bool) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, nil, false
	}
	id, valid := api.PathID(r, "userId")
	if !valid {
		api.WriteBadRequest(w, api.ReasonInvalidField, "invalid user id")
		return nil, nil, false
	}
	if id != actor.ID && !permissions.HasAll(actor.Permissions, manage...) {
		api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have permission to access this user")
		return nil, nil, false
	}
	user, err = h.users.Get(r.Context(), id)
	if err != nil {
		h.writeUserError(w, err)
		return nil, nil, false
	}
	return actor, user, true
}

func (h *Handler) writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		api.WriteNotFound(w, "user not found")
	case errors.Is(err, identity.ErrEmailExists):
		api.WriteConflict(w, "email already in use")
	default:
		h.log.Error("user operation failed", "error", err)
		api.WriteInternalError(w, "user operation failed")
	}
}

// canGrant reports whether actor may set perms on another user. Only
// admins can hand out ADMIN.
func canGrant(actor *identity.User, perms permissions.Permission) bool {
	if perms&permissions.Admin != 0 {
		return actor.Has(permissions.Admin)
	}
	return true
}

// HandleList handles GET /api/v1/user.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.users.List(r.Context())
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	take, skip := api.TakeSkip(r)
	if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		filtered := all[:0]
		for _, u := range all {
			if strings.Contains(u.Email, q) || strings.Contains(strings.ToLower(u.Name()), q) {
				filtered = append(filtered, u)
			}
		}
		all = filtered
	}

	results := []*identity.User{}
	if skip < len(all) {
		results = all[skip:min(skip+take, len(all))]
	}
	api.WriteJSON(w, http.StatusOK, api.Page[*identity.User]{
		PageInfo: api.NewPageInfo(len(all), take, skip),
		Results:  results,
	})
}

// HandleGet handles GET /api/v1/user/{userId}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, user)
}

// HandleUpdate handles PUT /api/v1/user/{userId}. Requires MANAGE_USERS.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	if user.ID == identity.OwnerID && actor.ID != identity.OwnerID {
		api.WriteForbidden(w, api.ReasonOwnerProtected, "only the owner can modify the owner account")
		return
	}
	if req.Permissions != nil {
		if user.ID == actor.ID && *req.Permissions != user.Permissions {
			api.WriteForbidden(w, api.ReasonUnauthorized, "you cannot change your own permissions")
			return
		}
		if !canGrant(actor, *req.Permissions) {
			api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have permission to grant this level of access")
			return
		}
		user.Permissions = *req.Permissions
	}
	for _, v := range []*int{req.InviteQuotaLimit, req.InviteQuotaDays} {
		if v != nil && *v < quota.Unlimited {
			api.WriteBadRequest(w, api.ReasonInvalidField, "quota overrides must be -1 or greater")
			return
		}
	}
	if req.InviteQuotaLimit != nil {
		user.InviteQuotaLimit = req.InviteQuotaLimit
	}
	if req.InviteQuotaDays != nil {
		user.InviteQuotaDays = req.InviteQuotaDays
	}
	if req.Username != nil {
		user.Username = strings.TrimSpace(*req.Username)
	}
	if req.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*req.DisplayName)
	}

	if err := h.users.Update(r.Context(), user); err != nil {
		h.writeUserError(w, err)
		return
	}
	h.log.Info("user updated", "user_id", user.ID, "by", actor.ID)
	api.WriteJSON(w, http.StatusOK, user)
}

// HandleDelete handles DELETE /api/v1/user/{userId}. Requires MANAGE_USERS.
// The owner account cannot be deleted, and only the owner may delete
// other admins.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	switch {
	case user.ID == identity.OwnerID:
		api.WriteForbidden(w, api.ReasonOwnerProtected, "this account cannot be deleted")
		return
	case user.ID == actor.ID:
		api.WriteForbidden(w, api.ReasonUnauthorized, "you cannot delete your own account")
		return
	case user.Has(permissions.Admin) && actor.ID != identity.OwnerID:
		api.WriteForbidden(w, api.ReasonUnauthorized, "you cannot delete users with administrative privileges")
		return
	}

	ctx := r.Context()
	subs, err := h.subs.ListByUser(ctx, user.ID)
	if err == nil {
		for _, sub := range subs {
			if err := h.subs.Delete(ctx, sub.ID); err != nil {
				h.log.Warn("failed to remove push subscription", "subscription_id", sub.ID, "error", err)
			}
		}
	}
	if err := h.users.Delete(ctx, user.ID); err != nil {
		h.writeUserError(w, err)
		return
	}
	h.log.Info("user deleted", "user_id", user.ID, "by", actor.ID)
	api.WriteJSON(w, http.StatusOK, user)
}

// HandleQuota handles GET /api/v1/user/{userId}/quota. Other users'
// quotas need MANAGE_USERS and MANAGE_INVITES.
func (h *Handler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.target(w, r, permissions.ManageUsers, permissions.ManageInvites)
	if !ok {
		return
	}
	result, err := h.quota.Get(r.Context(), user)
	if err != nil {
		h.log.Error("quota lookup failed", "user_id", user.ID, "error", err)
		api.WriteInternalError(w, "failed to compute quota")
		return
	}
	api.WriteJSON(w, http.StatusOK, quota.Envelope{Invite: result})
}

func (h *Handler) notificationSettings(user *identity.User) NotificationSettings {
	types := user.Settings.NotificationTypes
	if types == nil {
		types = map[string]int{}
	}
	return NotificationSettings{
		EmailEnabled:      h.settings.Notifications.Email.Enabled,
		WebPushEnabled:    h.settings.Notifications.WebPush.Enabled,
		PGPKey:            user.Settings.PGPKey,
		NotificationTypes: types,
	}
}

// HandleGetNotificationSettings handles GET /api/v1/user/{userId}/settings/notifications.
func (h *Handler) HandleGetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, h.notificationSettings(user))
}

// HandleUpdateNotificationSettings handles POST /api/v1/user/{userId}/settings/notifications.
// Submitted channels are merged over the stored map; unknown channel keys
// are dropped.
func (h *Handler) HandleUpdateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	actor, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	if user.ID == identity.OwnerID && actor.ID != identity.OwnerID {
		api.WriteForbidden(w, api.ReasonOwnerProtected, "you do not have permission to modify this user's settings")
		return
	}

	var req NotificationSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	merged := make(map[string]int, len(notifications.AgentKeys))
	for k, v := range user.Settings.NotificationTypes {
		merged[k] = v
	}
	for k, v := range req.NotificationTypes {
		merged[k] = v
	}
	user.Settings.NotificationTypes = notifications.SanitizePreferences(merged)
	user.Settings.PGPKey = strings.TrimSpace(req.PGPKey)

	if err := h.users.Update(r.Context(), user); err != nil {
		h.writeUserError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.notificationSettings(user))
}

// HandleRegisterPushSubscription handles POST /api/v1/user/registerPushSubscription
// for the current user.
func (h *Handler) HandleRegisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req PushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "endpoint, p256dh and auth are required")
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") {
		api.WriteBadRequest(w, api.ReasonInvalidField, "endpoint must be an https URL")
		return
	}

	sub := &identity.PushSubscription{
		UserID:    actor.ID,
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		UserAgent: req.UserAgent,
	}
	if err := h.subs.Save(r.Context(), sub); err != nil {
		h.log.Error("failed to register push subscription", "user_id", actor.ID, "error", err)
		api.WriteInternalError(w, "failed to register subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListPushSubscriptions handles GET /api/v1/user/{userId}/pushSubscriptions.
func (h *Handler) HandleListPushSubscriptions(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	subs, err := h.subs.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.log.Error("failed to list push subscriptions", "user_id", user.ID, "error", err)
		api.WriteInternalError(w, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*identity.PushSubscription{}
	}
	api.WriteJSON(w, http.StatusOK, subs)
}

// HandleDeletePushSubscription handles
// DELETE /api/v1/user/{userId}/pushSubscription?endpoint=.
func (h *Handler) HandleDeletePushSubscription(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.target(w, r, permissions.ManageUsers)
	if !ok {
		return
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "endpoint is required")
		return
	}
	if err := h.subs.DeleteByEndpoint(r.Context(), user.ID, endpoint); err != nil {
		if errors.Is(err, identity.ErrSubscriptionNotFound) {
			api.WriteNotFound(w, "subscription not found")
			return
		}
		h.log.Error("failed to delete push subscription", "user_id", user.ID, "error", err)
		api.WriteInternalError(w, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
