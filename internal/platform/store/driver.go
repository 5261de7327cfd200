// Package store provides persistence driver abstractions. A driver bundles
// the repositories of every component behind one lifecycle.
package store

import (
	"context"
	"errors"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
)

var ErrClosed = errors.New("store closed")

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init opens the backend and creates the schema.
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string

	Users() identity.UserRepo
	PushSubscriptions() identity.PushSubscriptionRepo
	Invites() invites.Repo
	Notifications() notifications.RecordRepo
}
