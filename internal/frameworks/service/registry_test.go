package service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"testing"
)

// mockService is a minimal Service implementation for testing.
type mockService struct {
	conf   map[string]any
	closed bool
}

func (m *mockService) Handler() http.Handler { return nil }
func (m *mockService) Prefix() string        { return "mock" }
func (m *mockService) Close() error          { m.closed = true; return nil }
func (m *mockService) Unprotected() []string { return nil }

// mockNewService is a constructor that creates a mockService.
func mockNewService(conf map[string]any, log *slog.Logger) (Service, error) {
	return &mockService{}, nil
}

func TestRegister(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	err := Register("test-service", mockNewService)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Verify it was registered
	constructor := Get("test-service")
	if constructor == nil {
		t.Fatal("Get returned nil for registered service")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	err := Register("dup-service", mockNewService)
	if err != nil {
		t.Fatalf("First Register failed: %v", err)
	}

	// Second registration should fail
	err = Register("dup-service", mockNewService)
	if err == nil {
		t.Fatal("Expected error on duplicate registration, got nil")
	}
}

func TestMustRegister_Panics(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	// First registration should not panic
	MustRegister("panic-test", mockNewService)

	// Second registration should panic
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Expected panic on duplicate MustRegister, got none")
		}
	}()
	MustRegister("panic-test", mockNewService)
}

func TestGet_NotRegistered(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	constructor := Get("nonexistent")
	if constructor != nil {
		t.Fatal("Expected nil for unregistered service")
	}
}

func TestRegisteredServices(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("svc-a", mockNewService)
	Register("svc-b", mockNewService)
	Register("svc-c", mockNewService)

	names := RegisteredServices()
	if len(names) != 3 {
		t.Fatalf("Expected 3 services, got %d", len(names))
	}

	// Check all names are present (order is not guaranteed)
	slices.Sort(names)
	expected := []string{"svc-a", "svc-b", "svc-c"}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("Expected %s at index %d, got %s", name, i, names[i])
		}
	}
}

func TestBuildCore(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	for _, name := range CoreServices {
		MustRegister(name, func(conf map[string]any, log *slog.Logger) (Service, error) {
			return &mockService{conf: conf}, nil
		})
	}

	confs := map[string]map[string]any{"api": {"ratelimit": map[string]any{"profile": "strict"}}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	built, err := BuildCore(func(name string) map[string]any { return confs[name] }, log)
	if err != nil {
		t.Fatalf("BuildCore failed: %v", err)
	}
	if len(built) != len(CoreServices) {
		t.Fatalf("built %d services, want %d", len(built), len(CoreServices))
	}
	if built["api"].(*mockService).conf == nil {
		t.Error("api service did not receive its config table")
	}
	if built["metrics"].(*mockService).conf != nil {
		t.Error("metrics service should receive nil config")
	}
}

func TestBuildCore_ClosesOnFailure(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	first := &mockService{}
	MustRegister(CoreServices[0], func(map[string]any, *slog.Logger) (Service, error) { return first, nil })
	MustRegister(CoreServices[1], func(map[string]any, *slog.Logger) (Service, error) {
		return nil, errors.New("boom")
	})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := BuildCore(func(string) map[string]any { return nil }, log); err == nil {
		t.Fatal("expected error")
	}
	if !first.closed {
		t.Error("service built before the failure was not closed")
	}
}

func TestBuildCore_Unregistered(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := BuildCore(func(string) map[string]any { return nil }, log); err == nil {
		t.Fatal("expected error for unregistered core service")
	}
}
