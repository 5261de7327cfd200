package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
)

func TestMemoryUserRepo_EmailIndex(t *testing.T) {
	repo := identity.NewMemoryUserRepo()
	ctx := context.Background()

	u := &identity.User{Email: " Alice@Example.COM ", DisplayName: "Alice"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, &identity.User{Email: "alice@example.com"}); !errors.Is(err, identity.ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected id %d, got %d", u.ID, got.ID)
	}

	got.Email = "alice2@example.com"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByEmail(ctx, "alice@example.com"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Error("old email should be released")
	}
}

func TestMemoryUserRepo_ReturnsCopies(t *testing.T) {
	repo := identity.NewMemoryUserRepo()
	ctx := context.Background()

	u := &identity.User{Email: "a@b.c", Settings: identity.UserSettings{NotificationTypes: map[string]int{"email": 64}}}
	_ = repo.Create(ctx, u)

	got, _ := repo.Get(ctx, u.ID)
	got.Settings.NotificationTypes["email"] = 0
	got.Permissions = permissions.Admin

	again, _ := repo.Get(ctx, u.ID)
	if again.Settings.NotificationTypes["email"] != 64 {
		t.Error("mutating a returned user must not change the stored map")
	}
	if again.Permissions != permissions.None {
		t.Error("mutating a returned user must not change stored permissions")
	}
}

func TestUser_Name(t *testing.T) {
	u := &identity.User{Email: "e@x"}
	if u.Name() != "e@x" {
		t.Errorf("got %q", u.Name())
	}
	u.Username = "user"
	if u.Name() != "user" {
		t.Errorf("got %q", u.Name())
	}
	u.DisplayName = "Display"
	if u.Name() != "Display" {
		t.Errorf("got %q", u.Name())
	}
}

func TestAuthenticate(t *testing.T) {
	repo := identity.NewMemoryUserRepo()
	auth := identity.NewUserAuthFast()
	ctx := context.Background()

	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	_ = repo.Create(ctx, &identity.User{Email: "bob@example.com", PasswordHash: hash})

	if _, err := auth.Authenticate(ctx, repo, "BOB@example.com", "hunter2"); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if _, err := auth.Authenticate(ctx, repo, "bob@example.com", "wrong"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := auth.Authenticate(ctx, repo, "nobody@example.com", "x"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("unknown email should look like a bad password, got %v", err)
	}
	if err := auth.VerifyPassword("not-a-hash", "x"); !errors.Is(err, identity.ErrInvalidPassword) {
		t.Errorf("malformed hash should fail, got %v", err)
	}
}

func TestMemoryPushSubscriptionRepo(t *testing.T) {
	repo := identity.NewMemoryPushSubscriptionRepo()
	ctx := context.Background()

	s := &identity.PushSubscription{UserID: 1, Endpoint: "https://push/1", P256dh: "k", Auth: "a"}
	_ = repo.Save(ctx, s)
	dup := &identity.PushSubscription{UserID: 1, Endpoint: "https://push/1", P256dh: "k2", Auth: "a2"}
	_ = repo.Save(ctx, dup)
	if dup.ID != s.ID {
		t.Error("same endpoint should keep its id")
	}
	_ = repo.Save(ctx, &identity.PushSubscription{UserID: 2, Endpoint: "https://push/2"})

	subs, _ := repo.ListByUser(ctx, 1)
	if len(subs) != 1 || subs[0].P256dh != "k2" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	if err := repo.DeleteByEndpoint(ctx, 1, "https://push/1"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, s.ID); !errors.Is(err, identity.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
