package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrRecordNotFound = errors.New("notification not found")

// Record is a persisted in-app notification.
type Record struct {
	ID             int64     `json:"id"`
	Type           Type      `json:"type"`
	Severity       Severity  `json:"severity"`
	Subject        string    `json:"subject"`
	Message        string    `json:"message,omitempty"`
	IsRead         bool      `json:"isRead"`
	ActionURL      string    `json:"actionUrl,omitempty"`
	ActionURLTitle string    `json:"actionUrlTitle,omitempty"`
	InviteID       int64     `json:"inviteId,omitempty"`
	NotifyUserID   int64     `json:"notifyUserId"`
	CreatedByID    int64     `json:"createdById,omitempty"`
	UpdatedByID    int64     `json:"updatedById,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Sort keys for list queries.
const (
	SortCreated  = "created"
	SortModified = "modified"
)

// RecordListOptions filters a record listing. Zero values mean "any".
type RecordListOptions struct {
	NotifyUserID int64
	CreatedByID  int64
	Types        []Type
	// IsRead filters by read state when non-nil.
	IsRead *bool
	Sort   string
	Take   int
	Skip   int
}

// RecordRepo stores in-app notification records.
type RecordRepo interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id int64) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id int64) error

	// List returns one page, newest first, and the total match count.
	List(ctx context.Context, opts RecordListOptions) ([]*Record, int, error)

	// DeleteOlderThan removes records created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteOrphaned removes records without a creator.
	DeleteOrphaned(ctx context.Context) (int, error)
}

// MemoryRecordRepo stores records in memory.
type MemoryRecordRepo struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*Record
}

func NewMemoryRecordRepo() *MemoryRecordRepo {
	return &MemoryRecordRepo{nextID: 1, records: make(map[int64]*Record)}
}

func (r *MemoryRecordRepo) Create(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ID = r.nextID
	r.nextID++
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	c := *rec
	r.records[rec.ID] = &c
	return nil
}

func (r *MemoryRecordRepo) Get(ctx context.Context, id int64) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MemoryRecordRepo) Update(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now()
	c := *rec
	r.records[rec.ID] = &c
	return nil
}

func (r *MemoryRecordRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRecordRepo) List(ctx context.Context, opts RecordListOptions) ([]*Record, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Record
	for _, rec := range r.records {
		if MatchesRecord(rec, opts) {
			c := *rec
			matched = append(matched, &c)
		}
	}

	byModified := opts.Sort == SortModified
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].CreatedAt, matched[j].CreatedAt
		if byModified {
			a, b = matched[i].UpdatedAt, matched[j].UpdatedAt
		}
		if a.Equal(b) {
			return matched[i].ID > matched[j].ID
		}
		return a.After(b)
	})

	total := len(matched)
	return page(matched, opts.Skip, opts.Take), total, nil
}

func (r *MemoryRecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRecordRepo) DeleteOrphaned(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, rec := range r.records {
		if rec.CreatedByID == 0 {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// MatchesRecord reports whether rec passes the list filters.
func MatchesRecord(rec *Record, opts RecordListOptions) bool {
	if opts.NotifyUserID != 0 && rec.NotifyUserID != opts.NotifyUserID {
		return false
	}
	if opts.CreatedByID != 0 && rec.CreatedByID != opts.CreatedByID {
		return false
	}
	if opts.IsRead != nil && rec.IsRead != *opts.IsRead {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if rec.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func page[T any](items []T, skip, take int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if take > 0 && take < len(items) {
		items = items[:take]
	}
	return items
}

var _ RecordRepo = (*MemoryRecordRepo)(nil)
