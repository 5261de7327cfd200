// Package invites implements the session-gated invite management endpoints.
// Scope rules (own invites vs. all invites) are enforced by the invite
// service; this package maps its errors onto the API envelope.
package invites

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// InviteService is the invite service surface used by the handlers.
type InviteService interface {
	Create(ctx context.Context, actor *identity.User, req invites.CreateRequest) (*invites.Invite, error)
	Get(ctx context.Context, actor *identity.User, id int64) (*invites.Invite, error)
	SetStatus(ctx context.Context, actor *identity.User, id int64, status string) (*invites.Invite, error)
	Delete(ctx context.Context, actor *identity.User, id int64) error
	List(ctx context.Context, actor *identity.User, req invites.ListRequest) ([]*invites.Invite, int, error)
	Counts(ctx context.Context, actor *identity.User) (invites.Counts, error)
}

// Handler serves /api/v1/invite.
type Handler struct {
	svc         InviteService
	currentUser api.CurrentUser
	log         *slog.Logger
}

// NewHandler creates an invite handler.
func NewHandler(svc InviteService, currentUser api.CurrentUser, log *slog.Logger) *Handler {
	return &Handler{svc: svc, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// writeServiceError maps invite service errors to responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, invites.ErrNotFound):
		api.WriteNotFound(w, "invite not found")
	case errors.Is(err, identity.ErrUserNotFound):
		api.WriteNotFound(w, "user not found")
	case errors.Is(err, invites.ErrPermission):
		api.WriteForbidden(w, api.ReasonUnauthorized, err.Error())
	case errors.Is(err, invites.ErrQuotaRestricted):
		api.WriteForbidden(w, api.ReasonQuotaRestricted, "you have reached your invite quota")
	case errors.Is(err, invites.ErrDuplicateCode):
		api.WriteConflict(w, "an invite with this code already exists")
	case errors.Is(err, invites.ErrInvalidStatus), errors.Is(err, invites.ErrInvalidRequest):
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
	default:
		h.log.Error("invite operation failed", "op", op, "error", err)
		api.WriteInternalError(w, "invite operation failed")
	}
}

// HandleList handles GET /api/v1/invite.
// Query: take, skip, sort (created|modified), filter (all|valid|redeemed|expired), createdBy.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	take, skip := api.TakeSkip(r)
	q := r.URL.Query()
	req := invites.ListRequest{Take: take, Skip: skip, Sort: q.Get("sort"), Filter: q.Get("filter")}
	if raw := q.Get("createdBy"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, api.ReasonInvalidField, "createdBy must be a user id")
			return
		}
		req.CreatedBy = id
	}

	list, total, err := h.svc.List(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, "list", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.Page[*invites.Invite]{
		PageInfo: api.NewPageInfo(total, take, skip),
		Results:  list,
	})
}

// HandleCreate handles POST /api/v1/invite.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req invites.CreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
			return
		}
	}

	inv, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, "create", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, inv)
}

// HandleCount handles GET /api/v1/invite/count.
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	counts, err := h.svc.Counts(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, "count", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, counts)
}

// HandleGet handles GET /api/v1/invite/{inviteId}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, "get", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// HandleSetStatus handles POST /api/v1/invite/{inviteId}/{status}.
func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.SetStatus(r.Context(), actor, id, chi.URLParam(r, "status"))
	if err != nil {
		h.writeServiceError(w, "set status", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// HandleDelete handles DELETE /api/v1/invite/{inviteId}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (*identity.User, int64, bool) {
	actor, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, 0, false
	}
	id, ok := api.PathID(r, "inviteId")
	if !ok {
		api.WriteBadRequest(w, api.ReasonInvalidField, "invalid invite id")
		return nil, 0, false
	}
	return actor, id, true
}
