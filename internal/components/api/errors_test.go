package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
)

func TestWriteError_EnvelopeShape(t *testing.T) {
	w := httptest.NewRecorder()

	api.WriteError(w, http.StatusForbidden, api.ReasonQuotaRestricted, "invite quota exceeded")

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var envelope api.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Error.Code != "Forbidden" {
		t.Errorf("expected code 'Forbidden', got %q", envelope.Error.Code)
	}
	if envelope.Error.ReasonCode != api.ReasonQuotaRestricted {
		t.Errorf("expected reason_code %q, got %q", api.ReasonQuotaRestricted, envelope.Error.ReasonCode)
	}
	if envelope.Error.Message != "invite quota exceeded" {
		t.Errorf("unexpected message: %q", envelope.Error.Message)
	}
}

func TestWriteError_StableReasonCodes(t *testing.T) {
	codes := map[string]string{
		"unauthenticated":     api.ReasonUnauthenticated,
		"unauthorized":        api.ReasonUnauthorized,
		"session_expired":     api.ReasonSessionExpired,
		"invalid_credentials": api.ReasonInvalidCredentials,
		"rate_limited":        api.ReasonRateLimited,
		"bad_request":         api.ReasonBadRequest,
		"not_found":           api.ReasonNotFound,
		"conflict":            api.ReasonConflict,
		"quota_restricted":    api.ReasonQuotaRestricted,
		"invite_invalid":      api.ReasonInviteInvalid,
		"owner_protected":     api.ReasonOwnerProtected,
		"preference_disabled": api.ReasonPreferenceDisabled,
		"internal_error":      api.ReasonInternalError,
	}
	for expected, actual := range codes {
		if actual != expected {
			t.Errorf("reason code changed: expected %q, got %q", expected, actual)
		}
	}
}

func TestHelpers_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		reason string
	}{
		{"unauthorized", func(w http.ResponseWriter) { api.WriteUnauthorized(w, api.ReasonUnauthenticated, "x") }, 401, api.ReasonUnauthenticated},
		{"forbidden", func(w http.ResponseWriter) { api.WriteForbidden(w, api.ReasonUnauthorized, "x") }, 403, api.ReasonUnauthorized},
		{"not found", func(w http.ResponseWriter) { api.WriteNotFound(w, "x") }, 404, api.ReasonNotFound},
		{"bad request", func(w http.ResponseWriter) { api.WriteBadRequest(w, api.ReasonMissingField, "x") }, 400, api.ReasonMissingField},
		{"conflict", func(w http.ResponseWriter) { api.WriteConflict(w, "x") }, 409, api.ReasonConflict},
		{"too many", func(w http.ResponseWriter) { api.WriteTooManyRequests(w, "x") }, 429, api.ReasonRateLimited},
		{"internal", func(w http.ResponseWriter) { api.WriteInternalError(w, "x") }, 500, api.ReasonInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var env api.ErrorEnvelope
			if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
				t.Fatal(err)
			}
			if env.Error.ReasonCode != tt.reason {
				t.Errorf("reason = %q, want %q", env.Error.ReasonCode, tt.reason)
			}
		})
	}
}

func TestNewPageInfo(t *testing.T) {
	tests := []struct {
		total, take, skip int
		want              api.PageInfo
	}{
		{0, 10, 0, api.PageInfo{Pages: 0, PageSize: 10, Results: 0, Page: 1}},
		{25, 10, 0, api.PageInfo{Pages: 3, PageSize: 10, Results: 25, Page: 1}},
		{25, 10, 10, api.PageInfo{Pages: 3, PageSize: 10, Results: 25, Page: 2}},
		{25, 10, 15, api.PageInfo{Pages: 3, PageSize: 10, Results: 25, Page: 3}},
		{5, 0, 0, api.PageInfo{Pages: 1, PageSize: api.DefaultPageSize, Results: 5, Page: 1}},
	}
	for _, tt := range tests {
		if got := api.NewPageInfo(tt.total, tt.take, tt.skip); got != tt.want {
			t.Errorf("NewPageInfo(%d,%d,%d) = %+v, want %+v", tt.total, tt.take, tt.skip, got, tt.want)
		}
	}
}

func TestTakeSkip(t *testing.T) {
	tests := []struct {
		query            string
		wantTake, wantSk int
	}{
		{"", api.DefaultPageSize, 0},
		{"?take=25&skip=50", 25, 50},
		{"?take=-1&skip=abc", api.DefaultPageSize, 0},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/x"+tt.query, nil)
		take, skip := api.TakeSkip(r)
		if take != tt.wantTake || skip != tt.wantSk {
			t.Errorf("%q: got take=%d skip=%d", tt.query, take, skip)
		}
	}
}

type stubCache struct{ err error }

func (p stubCache) Exists(context.Context, string) (bool, error) { return false, p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		cache      api.CacheChecker
		wantCode   int
		wantStatus string
		wantCache  string
	}{
		{"no cache", nil, http.StatusOK, "ok", ""},
		{"cache reachable", stubCache{}, http.StatusOK, "ok", "ok"},
		{"cache down", stubCache{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "degraded", "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			api.NewHealthHandler(tt.cache)(w, httptest.NewRequest("GET", "/api/healthz", nil))
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp api.HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus || resp.Cache != tt.wantCache {
				t.Errorf("body = %+v", resp)
			}
		})
	}
}
