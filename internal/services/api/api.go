// Package api provides the /api/* endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	apiinvites "github.com/nickelsh1ts/streamarr/internal/components/api/invites"
	apijobs "github.com/nickelsh1ts/streamarr/internal/components/api/jobs"
	apinotifications "github.com/nickelsh1ts/streamarr/internal/components/api/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/api/session"
	apisettings "github.com/nickelsh1ts/streamarr/internal/components/api/settings"
	"github.com/nickelsh1ts/streamarr/internal/components/api/signup"
	"github.com/nickelsh1ts/streamarr/internal/components/api/users"
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/frameworks/service"
	svccfg "github.com/nickelsh1ts/streamarr/internal/frameworks/service/cfg"
	"github.com/nickelsh1ts/streamarr/internal/frameworks/service/httpwrap"
	"github.com/nickelsh1ts/streamarr/internal/interceptors"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/auth"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service configuration.
type Config struct {
	// Ratelimit holds rate limiting configuration for this service.
	Ratelimit RatelimitConfig `mapstructure:"ratelimit"`
}

// RatelimitConfig holds the per-service rate limiting opt-in.
type RatelimitConfig struct {
	// Profile is the name of the ratelimit profile to use from
	// [http.interceptors.ratelimit.profiles.<name>]. It guards login and
	// signup.
	Profile string `mapstructure:"profile"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates a new API service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}

	// CurrentUser adapter for session-gated handlers
	currentUser := func(ctx context.Context) (*identity.User, error) {
		u := auth.GetUserFromContext(ctx)
		if u == nil {
			return nil, api.ErrNoUser
		}
		return u, nil
	}

	guard, err := ratelimitMiddleware(d, c.Ratelimit.Profile, log)
	if err != nil {
		return nil, err
	}

	secure := d.Config.Server.SecureCookies
	sessionHandler := session.NewHandler(d.Users, d.Sessions, d.UserAuth, secure, log)
	signupHandler := signup.NewHandler(d.Users, d.UserAuth, d.Sessions, d.Invites, d.Dispatcher,
		d.Settings.Main.DefaultPermissions, secure, log)
	inviteHandler := apiinvites.NewHandler(d.Invites, currentUser, log)
	userHandler := users.NewHandler(d.Users, d.PushSubs, d.Quota, d.Settings, currentUser, log)

	var live notifications.Broadcaster
	if d.Hub != nil {
		live = d.Hub
	}
	notificationHandler := apinotifications.NewHandler(d.Records, d.Users, d.Dispatcher, live, currentUser, log)

	var agents []notifications.Agent
	if d.Dispatcher != nil {
		agents = d.Dispatcher.Agents()
	}

	admin := auth.RequirePermission(permissions.ModeAnd, permissions.Admin)

	r := chi.NewRouter()

	// Health endpoint (public)
	var cacheCheck api.CacheChecker
	if d.Cache != nil {
		cacheCheck = d.Cache
	}
	r.Get("/healthz", api.NewHealthHandler(cacheCheck))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(guard).Post("/login", sessionHandler.HandleLogin)
			r.Post("/logout", sessionHandler.HandleLogout)
			r.Get("/me", sessionHandler.HandleMe)
		})

		r.Route("/signup", func(r chi.Router) {
			r.Get("/validate", signupHandler.HandleValidate)
			r.With(guard).Post("/", signupHandler.HandleSignup)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/public", apisettings.HandlePublic(d.Settings))
			r.With(auth.RequirePermission(permissions.ModeOr,
				permissions.ManageInvites, permissions.CreateInvites, permissions.ViewInvites,
			)).Get("/invites", apisettings.HandleInvites(d.Settings))
			r.With(admin).Post("/notifications/{agent}/test",
				apinotifications.HandleTest(agents, currentUser, log))
			if d.Jobs != nil {
				jobHandler := apijobs.NewHandler(d.Jobs, log)
				r.With(admin).Get("/jobs", jobHandler.HandleList)
				r.With(admin).Post("/jobs/{jobId}/run", jobHandler.HandleRun)
			}
		})

		// Scope (own vs. all invites) is enforced by the invite service.
		r.Route("/invite", func(r chi.Router) {
			r.Use(auth.RequirePermission(permissions.ModeOr,
				permissions.ManageInvites, permissions.CreateInvites, permissions.ViewInvites))
			r.Get("/", inviteHandler.HandleList)
			r.Post("/", inviteHandler.HandleCreate)
			r.Get("/count", inviteHandler.HandleCount)
			r.Get("/{inviteId}", inviteHandler.HandleGet)
			r.Post("/{inviteId}/{status}", inviteHandler.HandleSetStatus)
			r.Delete("/{inviteId}", inviteHandler.HandleDelete)
		})

		r.Route("/user", func(r chi.Router) {
			r.With(auth.RequirePermission(permissions.ModeAnd, permissions.ManageUsers)).Get("/", userHandler.HandleList)
			r.Post("/registerPushSubscription", userHandler.HandleRegisterPushSubscription)
			r.Get("/{userId}", userHandler.HandleGet)
			r.Put("/{userId}", userHandler.HandleUpdate)
			r.Delete("/{userId}", userHandler.HandleDelete)
			r.Get("/{userId}/quota", userHandler.HandleQuota)
			r.Get("/{userId}/settings/notifications", userHandler.HandleGetNotificationSettings)
			r.Post("/{userId}/settings/notifications", userHandler.HandleUpdateNotificationSettings)
			r.Get("/{userId}/pushSubscriptions", userHandler.HandleListPushSubscriptions)
			r.Delete("/{userId}/pushSubscription", userHandler.HandleDeletePushSubscription)
		})

		r.Route("/notification", func(r chi.Router) {
			// Any signed-in user reads their own inbox.
			r.Get("/inbox", notificationHandler.HandleInbox)
			r.Post("/inbox/read-all", notificationHandler.HandleMarkAllRead)
			r.Post("/inbox/{id}/read", notificationHandler.HandleMarkRead(true))
			r.Post("/inbox/{id}/unread", notificationHandler.HandleMarkRead(false))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequirePermission(permissions.ModeOr,
					permissions.ManageNotifications, permissions.CreateNotifications))
				r.Get("/", notificationHandler.HandleList)
				r.Post("/", notificationHandler.HandleCreate)
				r.Put("/{id}", notificationHandler.HandleUpdate)
				r.Delete("/{id}", notificationHandler.HandleDelete)
			})
		})
	})

	return &Service{router: r, conf: &c, log: log}, nil
}

// ratelimitMiddleware builds the configured ratelimit profile, or a
// passthrough when no profile is set.
func ratelimitMiddleware(d *deps.Deps, profile string, log *slog.Logger) (func(http.Handler) http.Handler, error) {
	if profile == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	profileConfig, err := interceptors.GetProfileConfig(d.Config.HTTP.Interceptors, "ratelimit", profile)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	newInterceptor, ok := interceptors.Get("ratelimit")
	if !ok {
		return nil, errors.New("api: ratelimit interceptor not registered")
	}
	mw, err := newInterceptor(profileConfig, log)
	if err != nil {
		return nil, fmt.Errorf("api: failed to create ratelimit interceptor: %w", err)
	}
	return mw, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that don't require session authentication.
func (s *Service) Unprotected() []string {
	return []string{"/healthz", "/v1/auth/login", "/v1/signup", "/v1/settings/public"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
