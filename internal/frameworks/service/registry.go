package service

import (
	"fmt"
	"log/slog"
	"sync"
)

// CoreServices lists service names that are always constructed regardless of
// whether [http.services.<name>] appears in TOML. The server mounts them in
// this order and closes them in reverse.
var CoreServices = []string{"api", "realtime", "metrics"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register registers a new HTTP service constructor by name.
// This is typically called from init() in service packages.
// Duplicate registration returns an error (fail-fast, no panic).
func Register(name string, newFunc NewService) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister is like Register but panics on error.
// Use this in init() where returning an error is not possible.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor for a registered service.
// Returns nil if the service is not registered.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the names of all registered services.
func RegisteredServices() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// BuildCore constructs every core service. confFor returns the raw
// [http.services.<name>] table, or nil when it is absent. Services built
// before a failure are closed.
func BuildCore(confFor func(name string) map[string]any, log *slog.Logger) (map[string]Service, error) {
	built := make(map[string]Service, len(CoreServices))
	for _, name := range CoreServices {
		newFunc := Get(name)
		if newFunc == nil {
			closeAll(built)
			return nil, fmt.Errorf("core service %q is not registered", name)
		}
		svc, err := newFunc(confFor(name), log.With("service", name))
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		built[name] = svc
	}
	return built, nil
}

func closeAll(services map[string]Service) {
	for _, svc := range services {
		_ = svc.Close()
	}
}

// resetRegistry is for testing only. Clears the registry.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
