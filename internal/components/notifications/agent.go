package notifications

import (
	"context"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
)

// Agent delivers notifications over one channel.
type Agent interface {
	// Name is the agent key (email, webpush, inApp).
	Name() string

	// ShouldSend reports whether the channel is configured. Called
	// synchronously by the dispatcher before Send.
	ShouldSend() bool

	// Send delivers p. Per-recipient failures are handled inside the agent;
	// false means the direct recipient could not be reached.
	Send(ctx context.Context, typ Type, p Payload) bool
}

// UserDirectory is the user lookup agents need.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (*identity.User, error)
	List(ctx context.Context) ([]*identity.User, error)
}

// deliverAll runs send for every recipient concurrently and waits for
// all of them. A failed recipient never cancels its siblings. It returns
// the number of failures and the first error.
func deliverAll[T any](ctx context.Context, recipients []T, send func(context.Context, T) error) (int, error) {
	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	for _, r := range recipients {
		g.Go(func() error {
			if err := send(ctx, r); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	return int(failed.Load()), err
}

// adminRecipients returns users eligible for the admin copy of p on the
// agent channel.
func adminRecipients(ctx context.Context, users UserDirectory, agentKey string, typ Type, p Payload) ([]*identity.User, error) {
	all, err := users.List(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(u *identity.User, _ int) bool {
		return PreferenceAllows(u, agentKey, typ) && ShouldSendAdminNotification(typ, u, p)
	}), nil
}
