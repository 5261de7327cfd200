package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nickelsh1ts/streamarr/internal/frameworks/service"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/auth"
	httpmw "github.com/nickelsh1ts/streamarr/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups is the single source of truth for auth gating decisions.
var routeGroups = []RouteGroup{
	{Name: "api", PathPrefix: "/api", RequiresAuth: true}, // exceptions via Service.Unprotected()
	{Name: "realtime", PathPrefix: "/ws", RequiresAuth: true},
	{Name: "metrics", PathPrefix: "/metrics", RequiresAuth: false},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired reports whether path needs a session. Unprotected paths
// declared by mounted services win over their route group.
func IsAuthRequired(path string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		base := ""
		if prefix := svc.Prefix(); prefix != "" {
			base = "/" + prefix
		}
		for _, unprotected := range svc.Unprotected() {
			if pathMatchesPrefix(path, base+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	// Unknown paths require auth.
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '/'
}

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if svc == nil {
		return
	}

	var handler http.Handler = svc.Handler()
	if prefix := svc.Prefix(); prefix == "" {
		r.Mount("/", handler)
	} else {
		r.Mount("/"+prefix, handler)
	}

	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with all services mounted.
func (s *Server) setupRoutes() chi.Router {
	d := deps.GetDeps()
	r := chi.NewRouter()

	// RequestID -> request-scoped logger -> access log -> metrics ->
	// recoverer -> auth gate. The order is relied on by the access log,
	// which reads the request id and sees the recovered 500.
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger, d.RealIP))
	r.Use(httpmw.AccessLog(s.logger, d.RealIP))
	r.Use(httpmw.Metrics)
	r.Use(chimw.Recoverer)

	// The closure reads s.mountedServices at request time.
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool { return IsAuthRequired(path, s.mountedServices) },
		Log:         s.logger,
		Sessions:    d.Sessions,
		Users:       d.Users,
	}))

	for _, name := range service.CoreServices {
		s.mountService(r, s.services[name])
	}

	return r
}
