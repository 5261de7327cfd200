// Package deps provides shared dependencies for all services.
package deps

import (
	"sync"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/jobs"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/realtime"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
	"github.com/nickelsh1ts/streamarr/internal/platform/config"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/realip"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds the dependencies shared by the HTTP services. Services are
// built from name-keyed config maps, so everything else reaches them here.
type Deps struct {
	Config   *config.Config
	Settings settings.Snapshot

	// Identity
	Users    identity.UserRepo
	Sessions identity.SessionRepo
	UserAuth *identity.UserAuth
	PushSubs identity.PushSubscriptionRepo

	// Invites
	InviteRepo invites.Repo
	Invites    *invites.Service
	Quota      *quota.Calculator

	// Notifications
	Records    notifications.RecordRepo
	Dispatcher *notifications.Dispatcher
	Hub        *realtime.Hub

	// Jobs is the maintenance scheduler; its jobs can be run on demand.
	Jobs *jobs.Scheduler

	// Cache backs sessions and the rate limit interceptor.
	Cache cache.CacheWithCounter

	// RealIP provides trusted-proxy-aware client IP extraction for logging
	// and rate limiting.
	RealIP *realip.TrustedProxies
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies.
// Returns nil if SetDeps has not been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
