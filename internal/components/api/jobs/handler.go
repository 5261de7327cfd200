// Package jobs exposes the maintenance scheduler to admins.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/jobs"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// Scheduler is the part of jobs.Scheduler the handler needs.
type Scheduler interface {
	List() []jobs.Info
	RunNow(ctx context.Context, id string) error
}

type Handler struct {
	sched Scheduler
	log   *slog.Logger
}

func NewHandler(sched Scheduler, log *slog.Logger) *Handler {
	return &Handler{sched: sched, log: logutil.NoopIfNil(log)}
}

// HandleList handles GET /api/v1/settings/jobs.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.sched.List())
}

// HandleRun handles POST /api/v1/settings/jobs/{jobId}/run. The job runs
// synchronously; its updated state is returned.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	err := h.sched.RunNow(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		api.WriteNotFound(w, "job not found")
		return
	case errors.Is(err, jobs.ErrAlreadyRunning):
		api.WriteConflict(w, "job is already running")
		return
	case err != nil:
		h.log.Warn("manual job run failed", "job", id, "error", err)
	}

	for _, info := range h.sched.List() {
		if info.ID == id {
			api.WriteJSON(w, http.StatusOK, info)
			return
		}
	}
	api.WriteNotFound(w, "job not found")
}
