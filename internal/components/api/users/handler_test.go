package users_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/api/users"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type fixture struct {
	users   *identity.MemoryUserRepo
	subs    *identity.MemoryPushSubscriptionRepo
	invites *invites.MemoryRepo
	s       settings.Snapshot
	owner   *identity.User
	manager *identity.User
	alice   *identity.User
	bob     *identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		users:   identity.NewMemoryUserRepo(),
		subs:    identity.NewMemoryPushSubscriptionRepo(),
		invites: invites.NewMemoryRepo(),
		s:       settings.Defaults(),
		owner:   &identity.User{ID: identity.OwnerID, Email: "owner@example.com", Permissions: permissions.Admin},
		manager: &identity.User{Email: "manager@example.com", Permissions: permissions.ManageUsers},
		alice:   &identity.User{Email: "alice@example.com", DisplayName: "Alice", Permissions: permissions.CreateInvites},
		bob:     &identity.User{Email: "bob@example.com", DisplayName: "Bob", Permissions: permissions.CreateInvites},
	}
	f.s.Invites.QuotaLimit = 3
	for _, u := range []*identity.User{f.owner, f.manager, f.alice, f.bob} {
		if err := f.users.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) router(actor *identity.User) http.Handler {
	h := users.NewHandler(f.users, f.subs, quota.NewCalculator(f.invites, f.s), f.s,
		func(ctx context.Context) (*identity.User, error) { return actor, nil }, testLogger)
	r := chi.NewRouter()
	r.Route("/user", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/registerPushSubscription", h.HandleRegisterPushSubscription)
		r.Get("/{userId}", h.HandleGet)
		r.Put("/{userId}", h.HandleUpdate)
		r.Delete("/{userId}", h.HandleDelete)
		r.Get("/{userId}/quota", h.HandleQuota)
		r.Get("/{userId}/settings/notifications", h.HandleGetNotificationSettings)
		r.Post("/{userId}/settings/notifications", h.HandleUpdateNotificationSettings)
		r.Get("/{userId}/pushSubscriptions", h.HandleListPushSubscriptions)
		r.Delete("/{userId}/pushSubscription", h.HandleDeletePushSubscription)
	})
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func reasonOf(rec *httptest.ResponseRecorder) string {
	var env api.ErrorEnvelope
	json.NewDecoder(rec.Body).Decode(&env)
	return env.Error.ReasonCode
}

func TestList(t *testing.T) {
	f := newFixture(t)
	rec := do(f.router(f.manager), "GET", "/user/?take=3&skip=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page api.Page[*identity.User]
	json.NewDecoder(rec.Body).Decode(&page)
	if page.PageInfo.Results != 4 || page.PageInfo.Page != 2 || len(page.Results) != 1 {
		t.Errorf("page = %+v (%d results)", page.PageInfo, len(page.Results))
	}

	rec = do(f.router(f.manager), "GET", "/user/?q=ali", "")
	json.NewDecoder(rec.Body).Decode(&page)
	if len(page.Results) != 1 || page.Results[0].ID != f.alice.ID {
		t.Errorf("search results = %+v", page.Results)
	}
}

func TestGet_SelfOrManager(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		actor  *identity.User
		target int64
		want   int
	}{
		{"self", f.alice, f.alice.ID, http.StatusOK},
		{"other user", f.alice, f.bob.ID, http.StatusForbidden},
		{"manager", f.manager, f.bob.ID, http.StatusOK},
		{"missing", f.manager, 99, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(f.router(tt.actor), "GET", fmt.Sprintf("/user/%d", tt.target), "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	mgr := f.router(f.manager)

	rec := do(mgr, "PUT", fmt.Sprintf("/user/%d", f.alice.ID), `{"displayName":"Alice L","permissions":35651584,"inviteQuotaLimit":-1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := f.users.Get(context.Background(), f.alice.ID)
	if got.DisplayName != "Alice L" || got.Permissions != permissions.CreateInvites|permissions.AdvancedInvites {
		t.Errorf("user not updated: %+v", got)
	}
	if got.InviteQuotaLimit == nil || *got.InviteQuotaLimit != quota.Unlimited {
		t.Errorf("quota override = %v", got.InviteQuotaLimit)
	}

	tests := []struct {
		name   string
		actor  *identity.User
		target int64
		body   string
		want   int
		reason string
	}{
		{"owner protected", f.manager, identity.OwnerID, `{"displayName":"x"}`, http.StatusForbidden, api.ReasonOwnerProtected},
		{"grant admin", f.manager, f.bob.ID, `{"permissions":2}`, http.StatusForbidden, api.ReasonUnauthorized},
		{"own permissions", f.manager, f.manager.ID, `{"permissions":0}`, http.StatusForbidden, api.ReasonUnauthorized},
		{"bad quota", f.manager, f.bob.ID, `{"inviteQuotaDays":-5}`, http.StatusBadRequest, api.ReasonInvalidField},
		{"owner grants admin", f.owner, f.bob.ID, `{"permissions":2}`, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(f.router(tt.actor), "PUT", fmt.Sprintf("/user/%d", tt.target), tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.reason != "" && reasonOf(rec) != tt.reason {
				t.Errorf("reason = %q, want %q", reasonOf(rec), tt.reason)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subs.Save(ctx, &identity.PushSubscription{UserID: f.alice.ID, Endpoint: "https://push.example/a", P256dh: "k", Auth: "a"})

	if rec := do(f.router(f.manager), "DELETE", "/user/1", ""); rec.Code != http.StatusForbidden || reasonOf(rec) != api.ReasonOwnerProtected {
		t.Errorf("owner delete status = %d", rec.Code)
	}
	if rec := do(f.router(f.manager), "DELETE", fmt.Sprintf("/user/%d", f.manager.ID), ""); rec.Code != http.StatusForbidden {
		t.Errorf("self delete status = %d", rec.Code)
	}
	if rec := do(f.router(f.alice), "DELETE", fmt.Sprintf("/user/%d", f.bob.ID), ""); rec.Code != http.StatusForbidden {
		t.Errorf("non-manager delete status = %d", rec.Code)
	}

	if rec := do(f.router(f.manager), "DELETE", fmt.Sprintf("/user/%d", f.alice.ID), ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := f.users.Get(ctx, f.alice.ID); err == nil {
		t.Error("user still present")
	}
	if subs, _ := f.subs.ListByUser(ctx, f.alice.ID); len(subs) != 0 {
		t.Errorf("push subscriptions left behind: %d", len(subs))
	}
}

func TestQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.invites.Create(ctx, &invites.Invite{ICode: "A1", Status: invites.StatusActive, CreatedBy: f.alice.ID})

	rec := do(f.router(f.alice), "GET", fmt.Sprintf("/user/%d/quota", f.alice.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var env quota.Envelope
	json.NewDecoder(rec.Body).Decode(&env)
	if env.Invite.Limit != 3 || env.Invite.Used != 1 || env.Invite.Remaining == nil || *env.Invite.Remaining != 2 {
		t.Errorf("quota = %+v", env.Invite)
	}

	// MANAGE_USERS alone is not enough to read another user's quota.
	if rec := do(f.router(f.manager), "GET", fmt.Sprintf("/user/%d/quota", f.alice.ID), ""); rec.Code != http.StatusForbidden {
		t.Errorf("manager status = %d, want 403", rec.Code)
	}
	if rec := do(f.router(f.owner), "GET", fmt.Sprintf("/user/%d/quota", f.alice.ID), ""); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}

func TestNotificationSettings(t *testing.T) {
	f := newFixture(t)
	alice := f.router(f.alice)
	path := fmt.Sprintf("/user/%d/settings/notifications", f.alice.ID)

	rec := do(alice, "POST", path, `{"pgpKey":" KEY ","notificationTypes":{"email":64,"bogus":1,"inApp":99999}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(alice, "GET", path, "")
	var got users.NotificationSettings
	json.NewDecoder(rec.Body).Decode(&got)
	if got.PGPKey != "KEY" {
		t.Errorf("pgpKey = %q", got.PGPKey)
	}
	if _, ok := got.NotificationTypes["bogus"]; ok {
		t.Error("unknown channel key kept")
	}
	if got.NotificationTypes[notifications.AgentEmail] != 64 {
		t.Errorf("email mask = %d", got.NotificationTypes[notifications.AgentEmail])
	}
	if got.NotificationTypes[notifications.AgentInApp]&^int(notifications.AllTypes) != 0 {
		t.Errorf("inApp mask kept unknown bits: %d", got.NotificationTypes[notifications.AgentInApp])
	}
	if !got.WebPushEnabled {
		t.Error("webPushEnabled should reflect settings")
	}

	// A second save merges rather than replaces.
	do(alice, "POST", path, `{"notificationTypes":{"webpush":128}}`)
	json.NewDecoder(do(alice, "GET", path, "").Body).Decode(&got)
	if got.NotificationTypes[notifications.AgentEmail] != 64 || got.NotificationTypes[notifications.AgentWebPush] != 128 {
		t.Errorf("merged map = %v", got.NotificationTypes)
	}

	rec = do(f.router(f.manager), "POST", "/user/1/settings/notifications", `{}`)
	if rec.Code != http.StatusForbidden || reasonOf(rec) != api.ReasonOwnerProtected {
		t.Errorf("owner settings by manager: %d", rec.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	f := newFixture(t)
	alice := f.router(f.alice)
	endpoint := "https://push.example/send/abc"

	for _, tt := range []struct {
		body string
		want int
	}{
		{`{"endpoint":"` + endpoint + `","p256dh":"key","auth":"secret","userAgent":"Firefox"}`, http.StatusNoContent},
		{`{"endpoint":"http://insecure.example","p256dh":"key","auth":"secret"}`, http.StatusBadRequest},
		{`{"endpoint":"` + endpoint + `"}`, http.StatusBadRequest},
	} {
		if rec := do(alice, "POST", "/user/registerPushSubscription", tt.body); rec.Code != tt.want {
			t.Errorf("register %s: status = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}

	rec := do(alice, "GET", fmt.Sprintf("/user/%d/pushSubscriptions", f.alice.ID), "")
	var subs []identity.PushSubscription
	json.NewDecoder(rec.Body).Decode(&subs)
	if len(subs) != 1 || subs[0].Endpoint != endpoint || subs[0].UserAgent != "Firefox" {
		t.Fatalf("subscriptions = %+v", subs)
	}

	del := fmt.Sprintf("/user/%d/pushSubscription?endpoint=%s", f.alice.ID, url.QueryEscape(endpoint))
	if rec := do(alice, "DELETE", del, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(alice, "DELETE", del, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
