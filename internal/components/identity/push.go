package identity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrSubscriptionNotFound = errors.New("push subscription not found")

// PushSubscription is a browser push endpoint registered by a user.
type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushSubscriptionRepo stores push subscriptions.
type PushSubscriptionRepo interface {
	// Save stores sub. An existing endpoint is replaced in place so a
	// browser re-subscribing keeps a single row.
	Save(ctx context.Context, sub *PushSubscription) error

	ListByUser(ctx context.Context, userID int64) ([]*PushSubscription, error)

	Delete(ctx context.Context, id int64) error

	// DeleteByEndpoint removes a user's subscription by endpoint.
	DeleteByEndpoint(ctx context.Context, userID int64, endpoint string) error
}

// MemoryPushSubscriptionRepo stores subscriptions in memory.
type MemoryPushSubscriptionRepo struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*PushSubscription
}

func NewMemoryPushSubscriptionRepo() *MemoryPushSubscriptionRepo {
	return &MemoryPushSubscriptionRepo{nextID: 1, subs: make(map[int64]*PushSubscription)}
}

func (r *MemoryPushSubscriptionRepo) Save(ctx context.Context, sub *PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.subs {
		if existing.Endpoint == sub.Endpoint {
			sub.ID = id
			sub.CreatedAt = existing.CreatedAt
			s := *sub
			r.subs[id] = &s
			return nil
		}
	}

	sub.ID = r.nextID
	r.nextID++
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s := *sub
	r.subs[sub.ID] = &s
	return nil
}

func (r *MemoryPushSubscriptionRepo) ListByUser(ctx context.Context, userID int64) ([]*PushSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*PushSubscription
	for _, s := range r.subs {
		if s.UserID == userID {
			c := *s
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryPushSubscriptionRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *MemoryPushSubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID int64, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.subs {
		if s.UserID == userID && s.Endpoint == endpoint {
			delete(r.subs, id)
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

var _ PushSubscriptionRepo = (*MemoryPushSubscriptionRepo)(nil)
