package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
)

// Session represents an active login.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionRepo provides session storage operations.
type SessionRepo interface {
	Create(ctx context.Context, userID int64, ttl time.Duration) (*Session, error)

	// Get returns ErrSessionNotFound or ErrSessionExpired.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
}

// GenerateToken returns 32 random bytes, URL-safe base64 encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// CacheSessionRepo keeps sessions in the shared cache so they expire with
// the cache TTL and survive restarts when the redis driver is used.
type CacheSessionRepo struct {
	c cache.Cache
}

func NewCacheSessionRepo(c cache.Cache) *CacheSessionRepo {
	return &CacheSessionRepo{c: c}
}

func sessionKey(token string) string { return "session:" + token }

func (r *CacheSessionRepo) Create(ctx context.Context, userID int64, ttl time.Duration) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = cache.TTLSession
	}
	now := time.Now()
	s := &Session{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := r.c.Set(ctx, sessionKey(token), b, ttl); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

func (r *CacheSessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	b, err := r.c.Get(ctx, sessionKey(token))
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, cache.ErrExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return &s, nil
}

func (r *CacheSessionRepo) Delete(ctx context.Context, token string) error {
	return r.c.Delete(ctx, sessionKey(token))
}

var _ SessionRepo = (*CacheSessionRepo)(nil)
