package signup_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/api/signup"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/cache/memory"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type recordingNotifier struct {
	mu    sync.Mutex
	types []notifications.Type
}

func (n *recordingNotifier) SendNotification(typ notifications.Type, p notifications.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, typ)
}

func (n *recordingNotifier) sent(typ notifications.Type) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.types {
		if t == typ {
			return true
		}
	}
	return false
}

type fixture struct {
	router   http.Handler
	users    *identity.MemoryUserRepo
	invites  *invites.MemoryRepo
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := settings.Defaults()

	users := identity.NewMemoryUserRepo()
	owner := &identity.User{ID: identity.OwnerID, Email: "owner@example.com", Permissions: permissions.Admin}
	if err := users.Create(ctx, owner); err != nil {
		t.Fatal(err)
	}

	repo := invites.NewMemoryRepo()
	for _, inv := range []*invites.Invite{
		{ICode: "WELCOME", Status: invites.StatusActive, UsageLimit: 1, CreatedBy: owner.ID},
		{ICode: "PAUSED", Status: invites.StatusInactive, UsageLimit: 1, CreatedBy: owner.ID},
		{ICode: "OLD", Status: invites.StatusActive, ExpiresAt: ptr(time.Now().Add(-time.Hour)), CreatedBy: owner.ID},
	} {
		if err := repo.Create(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}

	notifier := &recordingNotifier{}
	svc := invites.NewService(repo, users, quota.NewCalculator(repo, s), notifier, s, testLogger)
	sessions := identity.NewCacheSessionRepo(memory.New(time.Hour, 0))

	h := signup.NewHandler(users, identity.NewUserAuthFast(), sessions, svc, notifier, s.Main.DefaultPermissions, false, testLogger)
	r := chi.NewRouter()
	r.Get("/signup/validate", h.HandleValidate)
	r.Post("/signup", h.HandleSignup)
	return &fixture{router: r, users: users, invites: repo, notifier: notifier}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestValidate(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
		wantValid  bool
	}{
		{"WELCOME", http.StatusOK, true},
		{"MISSING", http.StatusNotFound, false},
		{"PAUSED", http.StatusBadRequest, false},
		{"OLD", http.StatusBadRequest, false},
	}
	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := f.do("GET", "/signup/validate?icode="+tt.code, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp signup.ValidateResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Valid != tt.wantValid || resp.Message == "" {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}

	if rec := f.do("GET", "/signup/validate", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing icode status = %d, want 400", rec.Code)
	}
}

func TestSignup_RedeemsInvite(t *testing.T) {
	f := newFixture(t)
	rec := f.do("POST", "/signup", `{"icode":"WELCOME","email":"New@Example.com","password":"longenough","displayName":"Newbie"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp signup.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.User.Email != "new@example.com" {
		t.Errorf("email = %q, want normalized", resp.User.Email)
	}
	if resp.User.Permissions != settings.Defaults().Main.DefaultPermissions {
		t.Errorf("permissions = %d", resp.User.Permissions)
	}

	inv, err := f.invites.GetByCode(context.Background(), "WELCOME")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Uses != 1 || inv.Status != invites.StatusRedeemed || !inv.RedeemedByUser(resp.User.ID) {
		t.Errorf("invite not redeemed: %+v", inv)
	}
	if !f.notifier.sent(notifications.UserCreated) || !f.notifier.sent(notifications.InviteRedeemed) {
		t.Errorf("expected USER_CREATED and INVITE_REDEEMED, got %v", f.notifier.types)
	}

	// The invite is now used up.
	rec = f.do("POST", "/signup", `{"icode":"WELCOME","email":"second@example.com","password":"longenough"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second signup status = %d, want 400", rec.Code)
	}
	if _, err := f.users.GetByEmail(context.Background(), "second@example.com"); err == nil {
		t.Error("account created for exhausted invite")
	}
}

func TestSignup_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
	}{
		{"missing fields", `{"icode":"WELCOME"}`, http.StatusBadRequest, api.ReasonMissingField},
		{"bad email", `{"icode":"WELCOME","email":"nope","password":"longenough"}`, http.StatusBadRequest, api.ReasonInvalidField},
		{"short password", `{"icode":"WELCOME","email":"a@example.com","password":"short"}`, http.StatusBadRequest, api.ReasonInvalidField},
		{"unknown invite", `{"icode":"MISSING","email":"a@example.com","password":"longenough"}`, http.StatusNotFound, api.ReasonNotFound},
		{"inactive invite", `{"icode":"PAUSED","email":"a@example.com","password":"longenough"}`, http.StatusBadRequest, api.ReasonInviteInvalid},
		{"email taken", `{"icode":"WELCOME","email":"owner@example.com","password":"longenough"}`, http.StatusConflict, api.ReasonConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do("POST", "/signup", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var env api.ErrorEnvelope
			json.NewDecoder(rec.Body).Decode(&env)
			if env.Error.ReasonCode != tt.wantReason {
				t.Errorf("reason = %q, want %q", env.Error.ReasonCode, tt.wantReason)
			}
		})
	}
}
