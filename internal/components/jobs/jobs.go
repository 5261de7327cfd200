// Package jobs runs the maintenance jobs on cron schedules and on demand.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/metrics"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job is already running")
)

// Job ids.
const (
	ExpireInvites        = "expire-invites"
	CleanupNotifications = "cleanup-notifications"
)

// RunFunc does one job run and returns a short summary for the log.
type RunFunc func(ctx context.Context) (string, error)

// Definition describes a job to schedule.
type Definition struct {
	ID       string
	Name     string
	Schedule string
	Run      RunFunc
}

// Info is the job state returned to clients.
type Info struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"nextExecutionTime,omitempty"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Running   bool       `json:"running"`
}

type job struct {
	def     Definition
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun *time.Time
	lastErr string
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]*job
	log  *slog.Logger

	// ctx is cancelled by Stop so in-flight scheduled runs end.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers defs. Schedules use six fields with seconds.
func NewScheduler(log *slog.Logger, defs ...Definition) (*Scheduler, error) {
	log = logutil.NoopIfNil(log)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		jobs:   make(map[string]*job, len(defs)),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, d := range defs {
		if _, dup := s.jobs[d.ID]; dup {
			cancel()
			return nil, fmt.Errorf("job %q registered twice", d.ID)
		}
		j := &job{def: d}
		id, err := s.cron.AddFunc(d.Schedule, func() {
			if err := s.run(s.ctx, j); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				s.log.Error("scheduled job failed", "job", d.ID, "error", err)
			}
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", d.ID, d.Schedule, err)
		}
		j.entryID = id
		s.jobs[d.ID] = j
	}
	return s, nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("job scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return s.run(ctx, j)
}

// List returns every job sorted by id.
func (s *Scheduler) List() []Info {
	out := make([]Info, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := Info{ID: j.def.ID, Name: j.def.Name, Schedule: j.def.Schedule}
		if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
			info.NextRun = &next
		}
		j.mu.Lock()
		info.Running = j.running
		info.LastRun = j.lastRun
		info.LastError = j.lastErr
		j.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, j.def.ID)
	}
	j.running = true
	j.mu.Unlock()

	start := time.Now()
	s.log.Info("starting scheduled job", "job", j.def.ID)
	summary, err := j.def.Run(ctx)

	j.mu.Lock()
	j.running = false
	j.lastRun = &start
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		metrics.JobRuns.WithLabelValues(j.def.ID, "error").Inc()
		return fmt.Errorf("job %s: %w", j.def.ID, err)
	}
	metrics.JobRuns.WithLabelValues(j.def.ID, "ok").Inc()
	s.log.Info("scheduled job finished", "job", j.def.ID, "summary", summary, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
