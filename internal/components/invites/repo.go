package invites

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Sort keys.
const (
	SortCreated  = "created"
	SortModified = "modified"
)

// ListOptions filters an invite listing. Empty Statuses means every status
// except INACTIVE.
type ListOptions struct {
	Statuses  []Status
	CreatedBy int64
	Sort      string
	Take      int
	Skip      int
}

// DefaultStatuses is the listing filter when none is given.
var DefaultStatuses = []Status{StatusActive, StatusRedeemed, StatusExpired}

// Counts summarizes invites by lifecycle state.
type Counts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// Repo stores invites.
type Repo interface {
	// Create assigns an id. Returns ErrDuplicateCode if icode is taken.
	Create(ctx context.Context, inv *Invite) error

	Get(ctx context.Context, id int64) (*Invite, error)
	GetByCode(ctx context.Context, icode string) (*Invite, error)
	Update(ctx context.Context, inv *Invite) error
	Delete(ctx context.Context, id int64) error

	// List returns one page ordered newest first and the total match count.
	List(ctx context.Context, opts ListOptions) ([]*Invite, int, error)

	// CountByStatus counts every invite, optionally restricted to a creator.
	CountByStatus(ctx context.Context, createdBy int64) (map[Status]int, error)

	// CountActiveCreatedBy counts non-expired invites created by userID,
	// strictly after since when since is non-nil.
	CountActiveCreatedBy(ctx context.Context, userID int64, since *time.Time) (int, error)

	// ExpireDue moves ACTIVE and INACTIVE invites with expiresAt <= now to
	// EXPIRED and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]*Invite, error)
}

// MemoryRepo stores invites in memory with a code index.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Invite
	byCode map[string]int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{nextID: 1, byID: make(map[int64]*Invite), byCode: make(map[string]int64)}
}

func (r *MemoryRepo) Create(ctx context.Context, inv *Invite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byCode[inv.ICode]; taken {
		return ErrDuplicateCode
	}
	inv.ID = r.nextID
	r.nextID++
	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	r.byID[inv.ID] = inv.Clone()
	r.byCode[inv.ICode] = inv.ID
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (*Invite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (r *MemoryRepo) GetByCode(ctx context.Context, icode string) (*Invite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[icode]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, inv *Invite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[inv.ID]
	if !ok {
		return ErrNotFound
	}
	if inv.ICode != existing.ICode {
		if _, taken := r.byCode[inv.ICode]; taken {
			return ErrDuplicateCode
		}
		delete(r.byCode, existing.ICode)
		r.byCode[inv.ICode] = inv.ID
	}
	inv.CreatedAt = existing.CreatedAt
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = time.Now()
	}
	r.byID[inv.ID] = inv.Clone()
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byCode, inv.ICode)
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, opts ListOptions) ([]*Invite, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}

	var matched []*Invite
	for _, inv := range r.byID {
		if !slices.Contains(statuses, inv.Status) {
			continue
		}
		if opts.CreatedBy != 0 && inv.CreatedBy != opts.CreatedBy {
			continue
		}
		matched = append(matched, inv.Clone())
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
	skip := max(opts.Skip, 0)
	if skip >= total {
		return []*Invite{}, total, nil
	}
	matched = matched[skip:]
	if opts.Take > 0 && opts.Take < len(matched) {
		matched = matched[:opts.Take]
	}
	return matched, total, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, createdBy int64) (map[Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Status]int)
	for _, inv := range r.byID {
		if createdBy != 0 && inv.CreatedBy != createdBy {
			continue
		}
		out[inv.Status]++
	}
	return out, nil
}

func (r *MemoryRepo) CountActiveCreatedBy(ctx context.Context, userID int64, since *time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, inv := range r.byID {
		if inv.CreatedBy != userID || inv.Status == StatusExpired {
			continue
		}
		if since != nil && !inv.CreatedAt.After(*since) {
			continue
		}
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ExpireDue(ctx context.Context, now time.Time) ([]*Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Invite
	for _, inv := range r.byID {
		if inv.Status != StatusActive && inv.Status != StatusInactive {
			continue
		}
		if inv.ExpiresAt == nil || inv.ExpiresAt.After(now) {
			continue
		}
		inv.Status = StatusExpired
		inv.UpdatedAt = now
		expired = append(expired, inv.Clone())
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

var _ Repo = (*MemoryRepo)(nil)
