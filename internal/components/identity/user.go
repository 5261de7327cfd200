// Package identity provides users, their settings and push subscriptions,
// password authentication and sessions.
package identity

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrEmailExists     = errors.New("email already in use")
	ErrInvalidPassword = errors.New("invalid password")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionNotFound = errors.New("session not found")
	ErrOwnerProtected  = errors.New("owner account cannot be deleted")
)

// OwnerID is the id of the main account created at bootstrap.
const OwnerID int64 = 1

// User is a local account.
type User struct {
	ID           int64                  `json:"id"`
	Email        string                 `json:"email"`
	Username     string                 `json:"username,omitempty"`
	DisplayName  string                 `json:"displayName"`
	PasswordHash string                 `json:"-"`
	Permissions  permissions.Permission `json:"permissions"`

	// Quota overrides; nil falls back to the global default.
	InviteQuotaLimit *int `json:"inviteQuotaLimit"`
	InviteQuotaDays  *int `json:"inviteQuotaDays"`

	Settings  UserSettings `json:"settings"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// UserSettings holds per-user preferences and grants.
type UserSettings struct {
	Locale            string     `json:"locale,omitempty"`
	PGPKey            string     `json:"pgpKey,omitempty"`
	SharedLibraries   string     `json:"sharedLibraries,omitempty"`
	AllowDownloads    bool       `json:"allowDownloads"`
	AllowLiveTV       bool       `json:"allowLiveTv"`
	TrialPeriodEndsAt *time.Time `json:"trialPeriodEndsAt,omitempty"`

	// NotificationTypes maps an agent key (email, webpush, inApp) to the
	// bitmask of notification types enabled on that channel. A missing key
	// means every type is enabled.
	NotificationTypes map[string]int `json:"notificationTypes,omitempty"`
}

// Name returns the best human-readable name for the user.
func (u *User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}

// Has reports whether the user holds a single permission.
func (u *User) Has(p permissions.Permission) bool {
	return permissions.Has(p, u.Permissions)
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	c := *u
	if u.InviteQuotaLimit != nil {
		v := *u.InviteQuotaLimit
		c.InviteQuotaLimit = &v
	}
	if u.InviteQuotaDays != nil {
		v := *u.InviteQuotaDays
		c.InviteQuotaDays = &v
	}
	if u.Settings.TrialPeriodEndsAt != nil {
		v := *u.Settings.TrialPeriodEndsAt
		c.Settings.TrialPeriodEndsAt = &v
	}
	if u.Settings.NotificationTypes != nil {
		c.Settings.NotificationTypes = maps.Clone(u.Settings.NotificationTypes)
	}
	return &c
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepo provides user storage operations.
type UserRepo interface {
	// Create stores a new user and assigns its id. Returns ErrEmailExists
	// if the normalized email is taken.
	Create(ctx context.Context, user *User) error

	// Get returns ErrUserNotFound if the id is unknown.
	Get(ctx context.Context, id int64) (*User, error)

	// GetByEmail looks up by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	Update(ctx context.Context, user *User) error

	Delete(ctx context.Context, id int64) error

	// List returns all users ordered by id.
	List(ctx context.Context) ([]*User, error)
}

// MemoryUserRepo stores users in memory with an email index.
type MemoryUserRepo struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]*User
	byEmail map[string]int64
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		nextID:  1,
		users:   make(map[int64]*User),
		byEmail: make(map[string]int64),
	}
}

func (r *MemoryUserRepo) Create(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, exists := r.byEmail[email]; exists {
		return ErrEmailExists
	}

	if _, exists := r.users[user.ID]; exists && user.ID != 0 {
		return ErrUserExists
	}

	user.Email = email
	if user.ID == 0 {
		user.ID = r.nextID
	}
	if user.ID >= r.nextID {
		r.nextID = user.ID + 1
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	r.users[user.ID] = user.Clone()
	r.byEmail[email] = user.ID
	return nil
}

func (r *MemoryUserRepo) Get(ctx context.Context, id int64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.users[id].Clone(), nil
}

func (r *MemoryUserRepo) Update(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}

	email := NormalizeEmail(user.Email)
	if email != existing.Email {
		if owner, taken := r.byEmail[email]; taken && owner != user.ID {
			return ErrEmailExists
		}
		delete(r.byEmail, existing.Email)
		r.byEmail[email] = user.ID
	}

	user.Email = email
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	r.users[user.ID] = user.Clone()
	return nil
}

func (r *MemoryUserRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.users, id)
	return nil
}

func (r *MemoryUserRepo) List(ctx context.Context) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		result = append(result, u.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ UserRepo = (*MemoryUserRepo)(nil)
