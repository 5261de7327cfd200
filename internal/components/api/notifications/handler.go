// Package notifications implements notification management and the
// per-user inbox. Every mutation is pushed to the recipient's realtime
// room.
package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// Notifier hands events to the notification dispatcher.
type Notifier interface {
	SendNotification(typ notifications.Type, p notifications.Payload)
}

// CreateRequest is the body of POST /api/v1/notification. NotifyUser is a
// single user id or an array of ids.
type CreateRequest struct {
	Type           notifications.Type     `json:"type"`
	Severity       notifications.Severity `json:"severity"`
	Subject        string                 `json:"subject"`
	Message        string                 `json:"message"`
	NotifyUser     json.RawMessage        `json:"notifyUser"`
	ActionURL      string                 `json:"actionUrl"`
	ActionURLTitle string                 `json:"actionUrlTitle"`
}

// CreateResult reports the outcome for one recipient.
type CreateResult struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"userId"`
	Error   string `json:"error,omitempty"`
}

// UpdateRequest is the body of PUT /api/v1/notification/{id}. Nil fields
// are left unchanged.
type UpdateRequest struct {
	IsRead         *bool                   `json:"isRead"`
	Subject        *string                 `json:"subject"`
	Message        *string                 `json:"message"`
	Severity       *notifications.Severity `json:"severity"`
	ActionURL      *string                 `json:"actionUrl"`
	ActionURLTitle *string                 `json:"actionUrlTitle"`
}

// Handler serves /api/v1/notification.
type Handler struct {
	records     notifications.RecordRepo
	users       identity.UserRepo
	notifier    Notifier
	live        notifications.Broadcaster
	currentUser api.CurrentUser
	now         func() time.Time
	log         *slog.Logger
}

// NewHandler creates a notifications handler. live may be nil.
func NewHandler(
	records notifications.RecordRepo,
	users identity.UserRepo,
	notifier Notifier,
	live notifications.Broadcaster,
	currentUser api.CurrentUser,
	log *slog.Logger,
) *Handler {
	return &Handler{
		records:     records,
		users:       users,
		notifier:    notifier,
		live:        live,
		currentUser: currentUser,
		now:         time.Now,
		log:         logutil.NoopIfNil(log),
	}
}

func (h *Handler) emit(rec *notifications.Record, ev notifications.ChangeEvent) {
	if h.live != nil {
		h.live.Emit(rec.NotifyUserID, notifications.EventNewNotification, ev)
	}
}

// listOptions parses the shared filter query parameters.
func listOptions(r *http.Request) notifications.RecordListOptions {
	take, skip := api.TakeSkip(r)
	q := r.URL.Query()
	opts := notifications.RecordListOptions{Take: take, Skip: skip, Sort: notifications.SortCreated}
	if q.Get("sort") == notifications.SortModified {
		opts.Sort = notifications.SortModified
	}
	switch q.Get("type") {
	case "test":
		opts.Types = []notifications.Type{notifications.TestNotification}
	case "none":
		opts.Types = []notifications.Type{notifications.None}
	}
	switch q.Get("filter") {
	case "read":
		opts.IsRead = boolPtr(true)
	case "unread":
		opts.IsRead = boolPtr(false)
	}
	return opts
}

func boolPtr(v bool) *bool { return &v }

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, opts notifications.RecordListOptions) {
	list, total, err := h.records.List(r.Context(), opts)
	if err != nil {
		h.log.Error("failed to list notifications", "error", err)
		api.WriteInternalError(w, "failed to list notifications")
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Page[*notifications.Record]{
		PageInfo: api.NewPageInfo(total, opts.Take, opts.Skip),
		Results:  list,
	})
}

// HandleList handles GET /api/v1/notification. Without
// MANAGE_NOTIFICATIONS only notifications the actor created are visible.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	opts := listOptions(r)
	var createdBy int64
	if raw := r.URL.Query().Get("createdBy"); raw != "" {
		createdBy, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "createdBy must be a user id")
			return
		}
	}
	if actor.Has(permissions.ManageNotifications) {
		opts.CreatedByID = createdBy
	} else {
		if createdBy != 0 && createdBy != actor.ID {
			api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have permission to manage notifications sent by other users")
			return
		}
		opts.CreatedByID = actor.ID
	}
	h.writeList(w, r, opts)
}

// parseRecipients accepts a single id or an array of ids.
func parseRecipients(raw json.RawMessage) (ids []int64, single bool, err error) {
	var one int64
	if err := json.Unmarshal(raw, &one); err == nil {
		return []int64{one}, true, nil
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, errors.New("notifyUser must be a user id or an array of user ids")
	}
	return ids, false, nil
}

// acceptsAny reports whether u has typ enabled on at least one channel.
func acceptsAny(u *identity.User, typ notifications.Type) bool {
	for _, key := range notifications.AgentKeys {
		if notifications.PreferenceAllows(u, key, typ) {
			return true
		}
	}
	return false
}

// HandleCreate handles POST /api/v1/notification. A single recipient who
// disabled the type on every channel is rejected; with several
// recipients such users are reported as failed.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if len(req.NotifyUser) == 0 || string(req.NotifyUser) == "null" {
		api.WriteBadRequest(w, api.ReasonMissingField, "notifyUser is required")
		return
	}
	if req.Subject == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "subject is required")
		return
	}
	if req.Type == notifications.None {
		req.Type = notifications.LocalMessage
	}
	if !req.Type.Deliverable() {
		api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("unknown notification type %d", req.Type))
		return
	}
	if req.Severity == "" {
		req.Severity = notifications.SeverityInfo
	}
	if !req.Severity.Valid() {
		api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("unknown severity %q", req.Severity))
		return
	}

	ids, single, err := parseRecipients(req.NotifyUser)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}

	ctx := r.Context()
	var recipients []*identity.User
	for _, id := range ids {
		u, err := h.users.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, identity.ErrUserNotFound) {
				h.log.Error("recipient lookup failed", "user_id", id, "error", err)
			}
			continue
		}
		recipients = append(recipients, u)
	}
	if len(recipients) == 0 {
		api.WriteBadRequest(w, api.ReasonInvalidField, "no valid users found to notify")
		return
	}

	h.log.Debug("creating notification", "type", req.Type.String(), "subject", req.Subject, "recipients", len(recipients))

	if single {
		u := recipients[0]
		if !acceptsAny(u, req.Type) {
			api.WriteBadRequest(w, api.ReasonPreferenceDisabled, "user has disabled this notification type")
			return
		}
		h.send(req, actor, u)
		api.WriteJSON(w, http.StatusCreated, CreateResult{Success: true, UserID: u.ID})
		return
	}

	results := make([]CreateResult, 0, len(recipients))
	for _, u := range recipients {
		if !acceptsAny(u, req.Type) {
			results = append(results, CreateResult{UserID: u.ID, Error: "user has disabled this notification type"})
			continue
		}
		h.send(req, actor, u)
		results = append(results, CreateResult{Success: true, UserID: u.ID})
	}
	api.WriteJSON(w, http.StatusCreated, results)
}

func (h *Handler) send(req CreateRequest, actor, to *identity.User) {
	h.notifier.SendNotification(req.Type, notifications.Payload{
		Subject:        req.Subject,
		Message:        req.Message,
		NotifyUser:     to,
		ActionURL:      req.ActionURL,
		ActionURLTitle: req.ActionURLTitle,
		Severity:       req.Severity,
		CreatedBy:      actor,
	})
}

// managed loads {id} and checks the actor created it or holds
// MANAGE_NOTIFICATIONS.
func (h *Handler) managed(w http.ResponseWriter, r *http.Request, verb string) (*identity.User, *notifications.Record, bool) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, nil, false
	}
	id, ok := api.PathID(r, "id")
	if !ok {
		api.WriteBadRequest(w, api.ReasonInvalidField, "invalid notification id")
		return nil, nil, false
	}
	rec, err := h.records.Get(r.Context(), id)
	if err != nil {
		h.writeRecordError(w, err)
		return nil, nil, false
	}
	if rec.CreatedByID != actor.ID && !actor.Has(permissions.ManageNotifications) {
		api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have permission to "+verb+" notifications created by other users")
		return nil, nil, false
	}
	return actor, rec, true
}

func (h *Handler) writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, notifications.ErrRecordNotFound) {
		api.WriteNotFound(w, "notification not found")
		return
	}
	h.log.Error("notification operation failed", "error", err)
	api.WriteInternalError(w, "notification operation failed")
}

// HandleUpdate handles PUT /api/v1/notification/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, rec, ok := h.managed(w, r, "modify")
	if !ok {
		return
	}
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Severity != nil && !req.Severity.Valid() {
		api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("unknown severity %q", *req.Severity))
		return
	}

	if req.IsRead != nil {
		rec.IsRead = *req.IsRead
	}
	if req.Subject != nil {
		rec.Subject = *req.Subject
	}
	if req.Message != nil {
		rec.Message = *req.Message
	}
	if req.Severity != nil {
		rec.Severity = *req.Severity
	}
	if req.ActionURL != nil {
		rec.ActionURL = *req.ActionURL
	}
	if req.ActionURLTitle != nil {
		rec.ActionURLTitle = *req.ActionURLTitle
	}
	h.save(w, r, actor, rec)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, actor *identity.User, rec *notifications.Record) {
	rec.UpdatedByID = actor.ID
	rec.UpdatedAt = h.now()
	if err := h.records.Update(r.Context(), rec); err != nil {
		h.writeRecordError(w, err)
		return
	}
	h.emit(rec, notifications.ChangeEvent{ID: rec.ID, IsRead: boolPtr(rec.IsRead), Action: "updated"})
	api.WriteJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /api/v1/notification/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.managed(w, r, "delete")
	if !ok {
		return
	}
	if err := h.records.Delete(r.Context(), rec.ID); err != nil {
		h.writeRecordError(w, err)
		return
	}
	h.emit(rec, notifications.ChangeEvent{ID: rec.ID, Action: "deleted"})
	w.WriteHeader(http.StatusNoContent)
}

// HandleInbox handles GET /api/v1/notification/inbox: the actor's own
// notifications.
func (h *Handler) HandleInbox(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	opts := listOptions(r)
	opts.NotifyUserID = actor.ID
	h.writeList(w, r, opts)
}

// HandleMarkRead handles POST /api/v1/notification/inbox/{id}/read and
// /unread for the recipient.
func (h *Handler) HandleMarkRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.currentUser(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}
		id, ok := api.PathID(r, "id")
		if !ok {
			api.WriteBadRequest(w, api.ReasonInvalidField, "invalid notification id")
			return
		}
		rec, err := h.records.Get(r.Context(), id)
		if err != nil || rec.NotifyUserID != actor.ID {
			if err == nil {
				err = notifications.ErrRecordNotFound
			}
			h.writeRecordError(w, err)
			return
		}
		rec.IsRead = read
		h.save(w, r, actor, rec)
	}
}

// HandleMarkAllRead handles POST /api/v1/notification/inbox/read-all.
func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	ctx := r.Context()
	unread, _, err := h.records.List(ctx, notifications.RecordListOptions{NotifyUserID: actor.ID, IsRead: boolPtr(false)})
	if err != nil {
		h.writeRecordError(w, err)
		return
	}

	now := h.now()
	var updated int
	for _, rec := range unread {
		rec.IsRead = true
		rec.UpdatedByID = actor.ID
		rec.UpdatedAt = now
		if err := h.records.Update(ctx, rec); err != nil {
			h.log.Warn("failed to mark notification read", "notification_id", rec.ID, "error", err)
			continue
		}
		h.emit(rec, notifications.ChangeEvent{ID: rec.ID, IsRead: boolPtr(true), Action: "updated"})
		updated++
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// HandleTest handles POST /api/v1/settings/notifications/{agent}/test.
// The test goes to the actor over that agent only.
func HandleTest(agents []notifications.Agent, currentUser api.CurrentUser, log *slog.Logger) http.HandlerFunc {
	log = logutil.NoopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := currentUser(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
			return
		}
		name := chi.URLParam(r, "agent")

		var agent notifications.Agent
		for _, a := range agents {
			if a.Name() == name {
				agent = a
			}
		}
		if agent == nil {
			api.WriteNotFound(w, fmt.Sprintf("unknown notification agent %q", name))
			return
		}
		if !agent.ShouldSend() {
			api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("notification agent %q is not enabled", name))
			return
		}

		ok := agent.Send(r.Context(), notifications.TestNotification, notifications.Payload{
			Subject:      "Test Notification",
			Message:      "Check check, 1, 2, 3. Are we coming in clear?",
			NotifySystem: true,
			NotifyUser:   actor,
			Severity:     notifications.SeverityInfo,
			CreatedBy:    actor,
		})
		if !ok {
			log.Warn("test notification failed", "agent", name, "user_id", actor.ID)
			api.WriteInternalError(w, fmt.Sprintf("failed to send %s notification", name))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
