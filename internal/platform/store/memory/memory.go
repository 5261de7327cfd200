// Package memory implements a process-local persistence driver. Data is
// lost on restart; it backs tests and throwaway dev instances.
package memory

import (
	"context"
	"errors"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/platform/store"
)

func init() {
	store.Register("memory", NewDriver)
}

// Driver implements store.Driver with in-memory repositories.
type Driver struct {
	users   *userRepo
	subs    *identity.MemoryPushSubscriptionRepo
	invites *invites.MemoryRepo
	records *notifications.MemoryRecordRepo
}

// NewDriver creates a new memory driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	d := &Driver{
		subs:    identity.NewMemoryPushSubscriptionRepo(),
		invites: invites.NewMemoryRepo(),
		records: notifications.NewMemoryRecordRepo(),
	}
	d.users = &userRepo{MemoryUserRepo: identity.NewMemoryUserRepo(), d: d}
	return d, nil
}

func (d *Driver) Name() string                 { return "memory" }
func (d *Driver) Init(ctx context.Context) error { return nil }
func (d *Driver) Close() error                 { return nil }

func (d *Driver) Users() identity.UserRepo                         { return d.users }
func (d *Driver) PushSubscriptions() identity.PushSubscriptionRepo { return d.subs }
func (d *Driver) Invites() invites.Repo                            { return d.invites }
func (d *Driver) Notifications() notifications.RecordRepo          { return d.records }

// userRepo applies the same delete cascade the sqlite schema does:
// subscriptions and received notifications go, authored notifications
// lose their creator.
type userRepo struct {
	*identity.MemoryUserRepo
	d *Driver
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	if err := r.MemoryUserRepo.Delete(ctx, id); err != nil {
		return err
	}

	subs, _ := r.d.subs.ListByUser(ctx, id)
	for _, s := range subs {
		_ = r.d.subs.Delete(ctx, s.ID)
	}

	received, _, _ := r.d.records.List(ctx, notifications.RecordListOptions{NotifyUserID: id})
	for _, rec := range received {
		if err := r.d.records.Delete(ctx, rec.ID); err != nil && !errors.Is(err, notifications.ErrRecordNotFound) {
			return err
		}
	}
	authored, _, _ := r.d.records.List(ctx, notifications.RecordListOptions{CreatedByID: id})
	for _, rec := range authored {
		rec.CreatedByID = 0
		if err := r.d.records.Update(ctx, rec); err != nil && !errors.Is(err, notifications.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

var _ store.Driver = (*Driver)(nil)
