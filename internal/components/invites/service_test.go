package invites

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

type sent struct {
	typ notifications.Type
	p   notifications.Payload
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) SendNotification(typ notifications.Type, p notifications.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{typ, p})
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	users    *identity.MemoryUserRepo
	notifier *recordingNotifier
	clock    time.Time
	admin    *identity.User
	alice    *identity.User
}

func newFixture(t *testing.T, mutate func(*settings.Snapshot)) *fixture {
	t.Helper()
	ctx := context.Background()

	s := settings.Defaults()
	s.Invites.ExpiryTime = settings.ExpiryDays
	s.Invites.SharedLibraries = "1|2"
	if mutate != nil {
		mutate(&s)
	}

	f := &fixture{
		repo:     NewMemoryRepo(),
		users:    identity.NewMemoryUserRepo(),
		notifier: &recordingNotifier{},
		clock:    t0,
	}
	f.admin = &identity.User{ID: identity.OwnerID, Email: "admin@example.com", Username: "admin", Permissions: permissions.Admin}
	f.alice = &identity.User{Email: "alice@example.com", Username: "alice", Permissions: permissions.CreateInvites}
	for _, u := range []*identity.User{f.admin, f.alice} {
		if err := f.users.Create(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	clock := func() time.Time { return f.clock }
	calc := quota.NewCalculator(f.repo, s).WithClock(clock)
	f.svc = NewService(f.repo, f.users, calc, f.notifier, s, nil).WithClock(clock)
	return f
}

func intp(v int) *int { return &v }

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t, nil)

	inv, err := f.svc.Create(context.Background(), f.alice, CreateRequest{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.ICode == "" || len(inv.ICode) != 10 {
		t.Errorf("generated code = %q", inv.ICode)
	}
	if inv.Status != StatusActive || inv.UsageLimit != 1 || !inv.Downloads {
		t.Errorf("defaults not applied: %+v", inv)
	}
	if inv.CreatedBy != f.alice.ID {
		t.Errorf("createdBy = %d", inv.CreatedBy)
	}
	if inv.UpdatedBy != 0 {
		t.Errorf("updatedBy = %d, want unset for non-manager", inv.UpdatedBy)
	}
	if inv.ExpiresAt == nil || !inv.ExpiresAt.Equal(t0.Add(24*time.Hour)) {
		t.Errorf("expiresAt = %v", inv.ExpiresAt)
	}
}

func TestCreate_OverridesNeedAdvancedPermission(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := CreateRequest{UsageLimit: intp(5)}
	inv, err := f.svc.Create(ctx, f.alice, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.UsageLimit != 1 {
		t.Errorf("plain user override applied: %d", inv.UsageLimit)
	}

	f.alice.Permissions |= permissions.AdvancedInvites
	inv, err = f.svc.Create(ctx, f.alice, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.UsageLimit != 5 {
		t.Errorf("usageLimit = %d, want 5", inv.UsageLimit)
	}

	bad := "years"
	if _, err := f.svc.Create(ctx, f.alice, CreateRequest{ExpiryTime: &bad}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreate_DuplicateCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.admin, CreateRequest{ICode: "WELCOME"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := f.svc.Create(ctx, f.admin, CreateRequest{ICode: "WELCOME"})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("err = %v, want ErrDuplicateCode", err)
	}
}

func TestCreate_QuotaRestricted(t *testing.T) {
	f := newFixture(t, func(s *settings.Snapshot) {
		s.Invites.QuotaLimit = 2
		s.Invites.QuotaDays = 0
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Create(ctx, f.alice, CreateRequest{}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := f.svc.Create(ctx, f.alice, CreateRequest{}); !errors.Is(err, ErrQuotaRestricted) {
		t.Fatalf("err = %v, want ErrQuotaRestricted", err)
	}

	// Admins bypass the quota.
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Create(ctx, f.admin, CreateRequest{}); err != nil {
			t.Fatalf("admin Create %d: %v", i, err)
		}
	}
}

func TestCreate_TrialRestricts(t *testing.T) {
	f := newFixture(t, func(s *settings.Snapshot) { s.Trial.Enabled = true })
	ends := t0.Add(48 * time.Hour)
	f.alice.Settings.TrialPeriodEndsAt = &ends

	if _, err := f.svc.Create(context.Background(), f.alice, CreateRequest{}); !errors.Is(err, ErrQuotaRestricted) {
		t.Fatalf("err = %v, want ErrQuotaRestricted during trial", err)
	}
}

func TestCreate_OnBehalfOfUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.alice, CreateRequest{UserID: f.admin.ID}); !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}

	inv, err := f.svc.Create(ctx, f.admin, CreateRequest{UserID: f.alice.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.CreatedBy != f.alice.ID || inv.UpdatedBy != f.admin.ID {
		t.Errorf("createdBy=%d updatedBy=%d", inv.CreatedBy, inv.UpdatedBy)
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.admin, CreateRequest{ICode: "CODE1"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Validate(ctx, "CODE1"); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if _, err := f.svc.Validate(ctx, "MISSING"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	f.clock = inv.ExpiresAt.Add(time.Minute)
	if _, err := f.svc.Validate(ctx, "CODE1"); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestRedeem_GrantsAndNotifies(t *testing.T) {
	f := newFixture(t, func(s *settings.Snapshot) {
		s.Trial.Enabled = true
		s.Trial.Days = 3
	})
	ctx := context.Background()

	f.alice.Permissions |= permissions.AdvancedInvites
	live := true
	if _, err := f.svc.Create(ctx, f.alice, CreateRequest{ICode: "JOIN", LiveTV: &live}); err != nil {
		t.Fatal(err)
	}

	bob := &identity.User{Email: "bob@example.com", Username: "bob"}
	if err := f.users.Create(ctx, bob); err != nil {
		t.Fatal(err)
	}

	inv, err := f.svc.Redeem(ctx, "JOIN", bob)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if inv.Status != StatusRedeemed || inv.Uses != 1 {
		t.Errorf("status=%v uses=%d", inv.Status, inv.Uses)
	}

	stored, _ := f.users.Get(ctx, bob.ID)
	if stored.Settings.SharedLibraries != "1|2" || !stored.Settings.AllowLiveTV || !stored.Settings.AllowDownloads {
		t.Errorf("grants not applied: %+v", stored.Settings)
	}
	if stored.Settings.TrialPeriodEndsAt == nil || !stored.Settings.TrialPeriodEndsAt.Equal(t0.Add(72*time.Hour)) {
		t.Errorf("trial end = %v", stored.Settings.TrialPeriodEndsAt)
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.sent))
	}
	n := f.notifier.sent[0]
	if n.typ != notifications.InviteRedeemed {
		t.Errorf("type = %v", n.typ)
	}
	if n.p.Subject != "Invite Redeemed: JOIN" || n.p.Message != "Your invite has been redeemed by bob." {
		t.Errorf("payload = %q / %q", n.p.Subject, n.p.Message)
	}
	if n.p.NotifyUser == nil || n.p.NotifyUser.ID != f.alice.ID || !n.p.NotifyAdmin {
		t.Errorf("recipients wrong: %+v", n.p)
	}

	if _, err := f.svc.Redeem(ctx, "JOIN", bob); !errors.Is(err, ErrNotActive) {
		t.Errorf("second redeem err = %v, want ErrNotActive", err)
	}
}

// lockedUsers fails every Update, as a busy database would.
type lockedUsers struct {
	*identity.MemoryUserRepo
}

func (lockedUsers) Update(context.Context, *identity.User) error {
	return errors.New("database is locked")
}

func TestRedeem_GrantFailureLeavesInviteUnused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.admin.Permissions |= permissions.ManageInvites
	if _, err := f.svc.Create(ctx, f.admin, CreateRequest{ICode: "ONCE", UsageLimit: intp(1)}); err != nil {
		t.Fatal(err)
	}
	bob := &identity.User{Email: "bob@example.com", Username: "bob"}
	if err := f.users.Create(ctx, bob); err != nil {
		t.Fatal(err)
	}

	clock := func() time.Time { return f.clock }
	calc := quota.NewCalculator(f.repo, settings.Defaults()).WithClock(clock)
	svc := NewService(f.repo, lockedUsers{f.users}, calc, f.notifier, settings.Defaults(), nil).WithClock(clock)
	if _, err := svc.Redeem(ctx, "ONCE", bob); err == nil {
		t.Fatal("expected grant failure")
	}

	inv, err := f.repo.GetByCode(ctx, "ONCE")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Uses != 0 || inv.Status != StatusActive || len(inv.RedeemedBy) != 0 {
		t.Errorf("failed redemption consumed the invite: uses=%d status=%v redeemedBy=%v",
			inv.Uses, inv.Status, inv.RedeemedBy)
	}
	if bob.Settings.SharedLibraries != "" || bob.Settings.AllowDownloads {
		t.Errorf("grants left on the user: %+v", bob.Settings)
	}
	for _, n := range f.notifier.sent {
		if n.typ == notifications.InviteRedeemed {
			t.Error("redeem notification sent for a failed redemption")
		}
	}

	// The invite is still redeemable once the user store recovers.
	if _, err := f.svc.Redeem(ctx, "ONCE", bob); err != nil {
		t.Errorf("retry Redeem: %v", err)
	}
}

func TestRedeem_ConcurrentRespectsLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.admin.Permissions |= permissions.ManageInvites
	if _, err := f.svc.Create(ctx, f.admin, CreateRequest{ICode: "RACE", UsageLimit: intp(3)}); err != nil {
		t.Fatal(err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		u := &identity.User{Email: "u" + string(rune('a'+i)) + "@example.com"}
		if err := f.users.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Redeem(ctx, "RACE", u); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 3 {
		t.Errorf("successful redemptions = %d, want 3", ok)
	}
	inv, _ := f.repo.GetByCode(ctx, "RACE")
	if inv.Uses != 3 || inv.Status != StatusRedeemed {
		t.Errorf("uses=%d status=%v", inv.Uses, inv.Status)
	}
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.alice, CreateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	other := &identity.User{Email: "eve@example.com"}
	if err := f.users.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetStatus(ctx, other, inv.ID, "expired"); !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
	if _, err := f.svc.SetStatus(ctx, f.alice, inv.ID, "bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}

	got, err := f.svc.SetStatus(ctx, f.alice, inv.ID, "expired")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %v", got.Status)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].typ != notifications.InviteExpired {
		t.Errorf("expected one INVITE_EXPIRED notification, got %+v", f.notifier.sent)
	}

	got, err = f.svc.SetStatus(ctx, f.admin, inv.ID, "redeemed")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusRedeemed || !got.RedeemedByUser(f.admin.ID) {
		t.Errorf("redeemed transition: %+v", got)
	}
}

func TestListScope(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, actor := range []*identity.User{f.alice, f.alice, f.admin} {
		if _, err := f.svc.Create(ctx, actor, CreateRequest{}); err != nil {
			t.Fatal(err)
		}
	}

	mine, total, err := f.svc.List(ctx, f.alice, ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(mine) != 2 {
		t.Errorf("alice sees %d/%d, want 2", len(mine), total)
	}
	if _, _, err := f.svc.List(ctx, f.alice, ListRequest{CreatedBy: f.admin.ID}); !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}

	all, total, err := f.svc.List(ctx, f.admin, ListRequest{Take: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(all) != 1 {
		t.Errorf("admin page = %d/%d", len(all), total)
	}

	c, err := f.svc.Counts(ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 2 || c.Active != 2 || c.Inactive != 0 {
		t.Errorf("counts = %+v", c)
	}
}

func TestGetAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.admin, CreateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, f.alice, inv.ID); !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
	f.alice.Permissions |= permissions.ViewInvites
	if _, err := f.svc.Get(ctx, f.alice, inv.ID); err != nil {
		t.Errorf("viewer Get: %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice, inv.ID); !errors.Is(err, ErrPermission) {
		t.Errorf("viewer Delete err = %v", err)
	}
	if err := f.svc.Delete(ctx, f.admin, inv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.repo.Get(ctx, inv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, f.alice, CreateRequest{}); err != nil {
		t.Fatal(err)
	}
	n, err := f.svc.ExpireDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early ExpireDue = %d, %v", n, err)
	}

	f.clock = t0.Add(25 * time.Hour)
	n, err = f.svc.ExpireDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.sent))
	}
	p := f.notifier.sent[0].p
	if p.Subject != "Invite Expired: "+p.Invite.ICode || p.NotifyUser.ID != f.alice.ID || p.ActionURL != "/invites" {
		t.Errorf("payload = %+v", p)
	}

	// Expired invites free quota.
	q, err := quota.NewCalculator(f.repo, settings.Snapshot{Invites: settings.InviteDefaults{QuotaLimit: 1}}).Get(ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}
	if q.Used != 0 {
		t.Errorf("used = %d after expiry", q.Used)
	}
}
