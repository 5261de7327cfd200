package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/platform/cache/memory"
)

func TestCacheSessionRepo_CRUD(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	repo := identity.NewCacheSessionRepo(c)
	ctx := context.Background()

	s, err := repo.Create(ctx, 42, time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Token == "" {
		t.Fatal("token should be assigned")
	}

	got, err := repo.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != 42 {
		t.Errorf("expected user 42, got %d", got.UserID)
	}

	if err := repo.Delete(ctx, s.Token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, identity.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCacheSessionRepo_Expired(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	repo := identity.NewCacheSessionRepo(c)
	ctx := context.Background()

	s, err := repo.Create(ctx, 1, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(15 * time.Millisecond)

	if _, err := repo.Get(ctx, s.Token); !errors.Is(err, identity.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}
