package notifications

import (
	"context"
	"errors"
	"sync"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
)

type fakeUsers struct {
	users []*identity.User
	err   error
}

func (f *fakeUsers) Get(_ context.Context, id int64) (*identity.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeUsers) List(context.Context) ([]*identity.User, error) {
	return f.users, f.err
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Email
	failTo map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[e.To] {
		return errors.New("smtp: connection refused")
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *fakeMailer) recipients() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, e := range m.sent {
		out[e.To] = true
	}
	return out
}

type fakePusher struct {
	mu       sync.Mutex
	pushed   []string
	contacts []string
	fail     map[string]bool
}

func (p *fakePusher) Push(_ context.Context, sub *identity.PushSubscription, _ []byte, contact string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[sub.Endpoint] {
		return errors.New("410 Gone")
	}
	p.pushed = append(p.pushed, sub.Endpoint)
	p.contacts = append(p.contacts, contact)
	return nil
}

type emitted struct {
	userID int64
	event  string
	data   any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emitted
}

func (b *fakeBroadcaster) Emit(userID int64, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{userID, event, data})
}
