// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/platform/store"
)

// TestUser returns a user with settings populated.
func TestUser(email string) *identity.User {
	limit := 5
	return &identity.User{
		Email:            email,
		Username:         "tester",
		DisplayName:      "Test User",
		PasswordHash:     "hash",
		Permissions:      permissions.CreateInvites | permissions.Request,
		InviteQuotaLimit: &limit,
		Settings: identity.UserSettings{
			Locale:            "en",
			SharedLibraries:   "1|2",
			AllowDownloads:    true,
			NotificationTypes: map[string]int{"email": 6, "inApp": 0},
		},
	}
}

// TestInvite returns an active invite owned by createdBy.
func TestInvite(code string, createdBy int64, createdAt time.Time) *invites.Invite {
	return &invites.Invite{
		Status:          invites.StatusActive,
		ICode:           code,
		UsageLimit:      2,
		Downloads:       true,
		ExpiryLimit:     1,
		ExpiryTime:      "days",
		ExpiresAt:       invites.ComputeExpiry(1, "days", createdAt),
		SharedLibraries: "server",
		CreatedBy:       createdBy,
		RedeemedBy:      []int64{},
		CreatedAt:       createdAt,
	}
}

// RunDriverTests runs the standard test suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	t.Run("UserCRUD", func(t *testing.T) {
		TestUserCRUD(t, ctx, driver.Users())
	})
	t.Run("PushSubscriptions", func(t *testing.T) {
		TestPushSubscriptions(t, ctx, driver.Users(), driver.PushSubscriptions())
	})
	t.Run("InviteCRUD", func(t *testing.T) {
		TestInviteCRUD(t, ctx, driver.Invites())
	})
	t.Run("InviteQueries", func(t *testing.T) {
		TestInviteQueries(t, ctx, driver.Invites())
	})
	t.Run("NotificationRecords", func(t *testing.T) {
		TestNotificationRecords(t, ctx, driver.Notifications())
	})
	t.Run("UserDeleteCascade", func(t *testing.T) {
		TestUserDeleteCascade(t, ctx, driver)
	})
}

// TestUserCRUD tests create, get, update, delete for users.
func TestUserCRUD(t *testing.T, ctx context.Context, repo identity.UserRepo) {
	u := TestUser("Alice@Example.com")
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Create did not assign an id")
	}

	got, err := repo.GetByEmail(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != u.ID || got.Email != "alice@example.com" {
		t.Errorf("got %d %q", got.ID, got.Email)
	}
	if got.InviteQuotaLimit == nil || *got.InviteQuotaLimit != 5 || got.InviteQuotaDays != nil {
		t.Errorf("quota overrides not round-tripped: %v %v", got.InviteQuotaLimit, got.InviteQuotaDays)
	}
	if got.Settings.NotificationTypes["email"] != 6 || got.Settings.SharedLibraries != "1|2" {
		t.Errorf("settings not round-tripped: %+v", got.Settings)
	}

	if err := repo.Create(ctx, TestUser("alice@example.com")); !errors.Is(err, identity.ErrEmailExists) {
		t.Errorf("duplicate email err = %v", err)
	}

	ends := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	got.DisplayName = "Alice"
	got.Settings.TrialPeriodEndsAt = &ends
	got.Settings.AllowDownloads = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, err := repo.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.DisplayName != "Alice" || again.Settings.AllowDownloads {
		t.Errorf("update not persisted: %+v", again)
	}
	if again.Settings.TrialPeriodEndsAt == nil || !again.Settings.TrialPeriodEndsAt.Equal(ends) {
		t.Errorf("trial end = %v", again.Settings.TrialPeriodEndsAt)
	}

	if err := repo.Update(ctx, &identity.User{ID: 9999, Email: "ghost@example.com"}); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("update missing err = %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) == 0 {
		t.Fatalf("List: %d, %v", len(list), err)
	}

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, u.ID); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("after delete err = %v", err)
	}
	if err := repo.Delete(ctx, u.ID); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

// TestPushSubscriptions tests upsert by endpoint and deletion.
func TestPushSubscriptions(t *testing.T, ctx context.Context, users identity.UserRepo, repo identity.PushSubscriptionRepo) {
	u := TestUser("push@example.com")
	if err := users.Create(ctx, u); err != nil {
		t.Fatal(err)
	}

	sub := &identity.PushSubscription{UserID: u.ID, Endpoint: "https://push.example/1", P256dh: "p1", Auth: "a1"}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first := sub.ID

	again := &identity.PushSubscription{UserID: u.ID, Endpoint: "https://push.example/1", P256dh: "p2", Auth: "a2"}
	if err := repo.Save(ctx, again); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	if again.ID != first {
		t.Errorf("resubscribe created a new row: %d vs %d", again.ID, first)
	}

	if err := repo.Save(ctx, &identity.PushSubscription{UserID: u.ID, Endpoint: "https://push.example/2"}); err != nil {
		t.Fatal(err)
	}

	subs, err := repo.ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(subs) != 2 || subs[0].P256dh != "p2" {
		t.Errorf("subs = %+v", subs)
	}

	if err := repo.DeleteByEndpoint(ctx, u.ID, "https://push.example/2"); err != nil {
		t.Errorf("DeleteByEndpoint: %v", err)
	}
	if err := repo.Delete(ctx, first); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, first); !errors.Is(err, identity.ErrSubscriptionNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

// TestInviteCRUD tests create, get, update, delete for invites.
func TestInviteCRUD(t *testing.T, ctx context.Context, repo invites.Repo) {
	now := time.Now().UTC().Truncate(time.Second)
	inv := TestInvite("CRUD1", 1, now)
	if err := repo.Create(ctx, inv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.ID == 0 {
		t.Fatal("Create did not assign an id")
	}
	if err := repo.Create(ctx, TestInvite("CRUD1", 2, now)); !errors.Is(err, invites.ErrDuplicateCode) {
		t.Errorf("duplicate code err = %v", err)
	}

	got, err := repo.GetByCode(ctx, "CRUD1")
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if got.ID != inv.ID || got.ExpiresAt == nil || !got.ExpiresAt.Equal(*inv.ExpiresAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := got.Redeem(7, now); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, err := repo.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Uses != 1 || len(again.RedeemedBy) != 1 || again.RedeemedBy[0] != 7 {
		t.Errorf("redemption not persisted: uses=%d redeemedBy=%v", again.Uses, again.RedeemedBy)
	}

	if err := repo.Delete(ctx, inv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, inv.ID); !errors.Is(err, invites.ErrNotFound) {
		t.Errorf("after delete err = %v", err)
	}
	if err := repo.Update(ctx, again); !errors.Is(err, invites.ErrNotFound) {
		t.Errorf("update deleted err = %v", err)
	}
}

// TestInviteQueries tests listing, counting and expiry sweeps.
func TestInviteQueries(t *testing.T, ctx context.Context, repo invites.Repo) {
	const owner int64 = 42
	now := time.Now().UTC().Truncate(time.Second)

	recent := []*invites.Invite{
		TestInvite("Q-RECENT-1", owner, now.Add(-1*time.Hour)),
		TestInvite("Q-RECENT-2", owner, now.Add(-2*time.Hour)),
		TestInvite("Q-RECENT-3", owner, now.Add(-3*time.Hour)),
	}
	old := TestInvite("Q-OLD", owner, now.Add(-30*24*time.Hour))
	gone := TestInvite("Q-EXPIRED", owner, now.Add(-90*time.Minute))
	gone.Status = invites.StatusExpired
	other := TestInvite("Q-OTHER", owner+1, now)

	for _, inv := range append(recent, old, gone, other) {
		if err := repo.Create(ctx, inv); err != nil {
			t.Fatalf("Create %s: %v", inv.ICode, err)
		}
	}

	since := now.Add(-7 * 24 * time.Hour)
	n, err := repo.CountActiveCreatedBy(ctx, owner, &since)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rolling count = %d, want 3", n)
	}
	n, err = repo.CountActiveCreatedBy(ctx, owner, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("lifetime count = %d, want 4", n)
	}

	page, total, err := repo.List(ctx, invites.ListOptions{CreatedBy: owner, Take: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 || page[0].ICode != "Q-RECENT-1" {
		t.Errorf("list page: total=%d len=%d first=%v", total, len(page), page)
	}
	expiredOnly, total, err := repo.List(ctx, invites.ListOptions{Statuses: []invites.Status{invites.StatusExpired}, CreatedBy: owner})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || expiredOnly[0].ICode != "Q-EXPIRED" {
		t.Errorf("status filter: %v", expiredOnly)
	}

	counts, err := repo.CountByStatus(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if counts[invites.StatusActive] != 4 || counts[invites.StatusExpired] != 1 {
		t.Errorf("counts = %v", counts)
	}

	// Q-OLD expired 29 days ago; the recent ones expire within a day.
	swept, err := repo.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if len(swept) != 1 || swept[0].ICode != "Q-OLD" || swept[0].Status != invites.StatusExpired {
		t.Fatalf("swept = %+v", swept)
	}
	stored, _ := repo.GetByCode(ctx, "Q-OLD")
	if stored.Status != invites.StatusExpired {
		t.Errorf("stored status = %v", stored.Status)
	}
	if again, _ := repo.ExpireDue(ctx, now); len(again) != 0 {
		t.Errorf("second sweep expired %d", len(again))
	}
}

// TestNotificationRecords tests record CRUD, filters and cleanup.
func TestNotificationRecords(t *testing.T, ctx context.Context, repo notifications.RecordRepo) {
	const user int64 = 77
	now := time.Now().UTC()

	mk := func(typ notifications.Type, createdBy int64, age time.Duration) *notifications.Record {
		rec := &notifications.Record{
			Type:         typ,
			Severity:     notifications.SeverityInfo,
			Subject:      typ.String(),
			NotifyUserID: user,
			CreatedByID:  createdBy,
			CreatedAt:    now.Add(-age),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		return rec
	}

	a := mk(notifications.LocalMessage, 1, time.Minute)
	mk(notifications.TestNotification, 1, 2*time.Minute)
	mk(notifications.InviteRedeemed, 0, 3*time.Minute)
	mk(notifications.LocalMessage, 1, 400*24*time.Hour)

	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.IsRead = true
	got.UpdatedByID = user
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	unread := false
	list, total, err := repo.List(ctx, notifications.RecordListOptions{NotifyUserID: user, IsRead: &unread})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 3 {
		t.Errorf("unread = %d/%d", len(list), total)
	}
	list, total, err = repo.List(ctx, notifications.RecordListOptions{
		NotifyUserID: user,
		Types:        []notifications.Type{notifications.LocalMessage},
		Take:         1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(list) != 1 || list[0].ID != a.ID || !list[0].IsRead {
		t.Errorf("type filter page = %+v total=%d", list, total)
	}

	n, err := repo.DeleteOlderThan(ctx, now.Add(-365*24*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteOlderThan = %d, %v", n, err)
	}
	n, err = repo.DeleteOrphaned(ctx)
	if err != nil || n != 1 {
		t.Errorf("DeleteOrphaned = %d, %v", n, err)
	}

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, a.ID); !errors.Is(err, notifications.ErrRecordNotFound) {
		t.Errorf("after delete err = %v", err)
	}
}

// TestUserDeleteCascade checks that deleting a user removes its
// subscriptions and received notifications and detaches authored ones.
func TestUserDeleteCascade(t *testing.T, ctx context.Context, d store.Driver) {
	author := TestUser("author@example.com")
	reader := TestUser("reader@example.com")
	for _, u := range []*identity.User{author, reader} {
		if err := d.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.PushSubscriptions().Save(ctx, &identity.PushSubscription{UserID: reader.ID, Endpoint: "https://push.example/cascade"}); err != nil {
		t.Fatal(err)
	}
	toReader := &notifications.Record{Type: notifications.LocalMessage, Subject: "hi", NotifyUserID: reader.ID, CreatedByID: author.ID}
	toAuthor := &notifications.Record{Type: notifications.LocalMessage, Subject: "re", NotifyUserID: author.ID, CreatedByID: reader.ID}
	for _, rec := range []*notifications.Record{toReader, toAuthor} {
		if err := d.Notifications().Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := d.Users().Delete(ctx, reader.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if subs, _ := d.PushSubscriptions().ListByUser(ctx, reader.ID); len(subs) != 0 {
		t.Errorf("subscriptions survived: %d", len(subs))
	}
	if _, err := d.Notifications().Get(ctx, toReader.ID); !errors.Is(err, notifications.ErrRecordNotFound) {
		t.Errorf("received notification survived: %v", err)
	}
	kept, err := d.Notifications().Get(ctx, toAuthor.ID)
	if err != nil {
		t.Fatalf("authored notification removed: %v", err)
	}
	if kept.CreatedByID != 0 {
		t.Errorf("createdBy = %d, want detached", kept.CreatedByID)
	}
}
