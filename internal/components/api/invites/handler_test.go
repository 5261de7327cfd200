package invites_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	apiinvites "github.com/nickelsh1ts/streamarr/internal/components/api/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type discardNotifier struct{}

func (discardNotifier) SendNotification(notifications.Type, notifications.Payload) {}

// currentUserFunc returns a CurrentUser resolver that always returns the given user.
func currentUserFunc(user *identity.User) api.CurrentUser {
	return func(ctx context.Context) (*identity.User, error) {
		if user == nil {
			return nil, api.ErrNoUser
		}
		return user, nil
	}
}

type fixture struct {
	svc   *invites.Service
	admin *identity.User
	alice *identity.User
	bob   *identity.User
}

func newFixture(t *testing.T, quotaLimit int) *fixture {
	t.Helper()
	ctx := context.Background()
	s := settings.Defaults()
	s.Invites.QuotaLimit = quotaLimit

	users := identity.NewMemoryUserRepo()
	f := &fixture{
		admin: &identity.User{ID: identity.OwnerID, Email: "admin@example.com", Permissions: permissions.Admin},
		alice: &identity.User{Email: "alice@example.com", Permissions: permissions.CreateInvites},
		bob:   &identity.User{Email: "bob@example.com", Permissions: permissions.CreateInvites},
	}
	for _, u := range []*identity.User{f.admin, f.alice, f.bob} {
		if err := users.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	repo := invites.NewMemoryRepo()
	f.svc = invites.NewService(repo, users, quota.NewCalculator(repo, s), discardNotifier{}, s, testLogger)
	return f
}

// router mounts the invite handler acting as user.
func (f *fixture) router(user *identity.User) http.Handler {
	h := apiinvites.NewHandler(f.svc, currentUserFunc(user), testLogger)
	r := chi.NewRouter()
	r.Route("/invite", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/count", h.HandleCount)
		r.Get("/{inviteId}", h.HandleGet)
		r.Post("/{inviteId}/{status}", h.HandleSetStatus)
		r.Delete("/{inviteId}", h.HandleDelete)
	})
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createInvite(t *testing.T, h http.Handler, body string) *invites.Invite {
	t.Helper()
	rec := do(h, "POST", "/invite/", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var inv invites.Invite
	if err := json.NewDecoder(rec.Body).Decode(&inv); err != nil {
		t.Fatal(err)
	}
	return &inv
}

func reasonOf(rec *httptest.ResponseRecorder) string {
	var env api.ErrorEnvelope
	json.NewDecoder(rec.Body).Decode(&env)
	return env.Error.ReasonCode
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t, 0)
	alice := f.router(f.alice)

	inv := createInvite(t, alice, "")
	if inv.ICode == "" || inv.Status != invites.StatusActive || inv.CreatedBy != f.alice.ID {
		t.Fatalf("unexpected invite %+v", inv)
	}

	rec := do(alice, "GET", fmt.Sprintf("/invite/%d", inv.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Bob holds neither VIEW nor MANAGE invites.
	rec = do(f.router(f.bob), "GET", fmt.Sprintf("/invite/%d", inv.ID), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("bob get status = %d, want 403", rec.Code)
	}

	if rec = do(alice, "GET", "/invite/999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing invite status = %d, want 404", rec.Code)
	}
	if rec = do(alice, "GET", "/invite/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.router(f.alice)
	createInvite(t, alice, `{"icode":"FIRST"}`)

	rec := do(alice, "POST", "/invite/", `{"icode":"SECOND"}`)
	if rec.Code != http.StatusForbidden || reasonOf(rec) != api.ReasonQuotaRestricted {
		t.Errorf("quota: status = %d, want 403 quota_restricted", rec.Code)
	}

	admin := f.router(f.admin)
	rec = do(admin, "POST", "/invite/", `{"icode":"FIRST"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}

	rec = do(admin, "POST", "/invite/", `{"expiryTime":"years"}`)
	if rec.Code != http.StatusBadRequest || reasonOf(rec) != api.ReasonInvalidField {
		t.Errorf("bad expiry: status = %d, want 400 invalid_field", rec.Code)
	}

	rec = do(alice, "POST", "/invite/", `{"userId":1}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("on behalf: status = %d, want 403", rec.Code)
	}

	rec = do(admin, "POST", "/invite/", `{"userId":42}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown owner: status = %d, want 404", rec.Code)
	}

	if rec = do(f.router(nil), "POST", "/invite/", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
}

func TestListScopeAndPaging(t *testing.T) {
	f := newFixture(t, 0)
	alice, bob, admin := f.router(f.alice), f.router(f.bob), f.router(f.admin)
	for i := 0; i < 3; i++ {
		createInvite(t, alice, "")
	}
	createInvite(t, bob, "")

	var page api.Page[*invites.Invite]
	rec := do(alice, "GET", "/invite/?take=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	json.NewDecoder(rec.Body).Decode(&page)
	if page.PageInfo.Results != 3 || page.PageInfo.Pages != 2 || len(page.Results) != 2 {
		t.Errorf("alice page = %+v", page.PageInfo)
	}

	rec = do(alice, "GET", fmt.Sprintf("/invite/?createdBy=%d", f.bob.ID), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("alice listing bob's invites status = %d, want 403", rec.Code)
	}

	rec = do(admin, "GET", "/invite/", "")
	json.NewDecoder(rec.Body).Decode(&page)
	if page.PageInfo.Results != 4 {
		t.Errorf("admin sees %d invites, want 4", page.PageInfo.Results)
	}

	var counts invites.Counts
	json.NewDecoder(do(admin, "GET", "/invite/count", "").Body).Decode(&counts)
	if counts.Total != 4 || counts.Active != 4 || counts.Inactive != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestSetStatusAndDelete(t *testing.T) {
	f := newFixture(t, 0)
	alice := f.router(f.alice)
	inv := createInvite(t, alice, "")

	rec := do(alice, "POST", fmt.Sprintf("/invite/%d/expired", inv.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated invites.Invite
	json.NewDecoder(rec.Body).Decode(&updated)
	if updated.Status != invites.StatusExpired {
		t.Errorf("status = %v, want expired", updated.Status)
	}

	if rec = do(alice, "POST", fmt.Sprintf("/invite/%d/paused", inv.ID), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status: %d, want 400", rec.Code)
	}
	if rec = do(f.router(f.bob), "DELETE", fmt.Sprintf("/invite/%d", inv.ID), ""); rec.Code != http.StatusForbidden {
		t.Errorf("bob delete: %d, want 403", rec.Code)
	}
	if rec = do(alice, "DELETE", fmt.Sprintf("/invite/%d", inv.ID), ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d, want 204", rec.Code)
	}
	if rec = do(alice, "GET", fmt.Sprintf("/invite/%d", inv.ID), ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d, want 404", rec.Code)
	}
}
