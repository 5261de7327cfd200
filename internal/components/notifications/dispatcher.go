package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/metrics"
)

// DefaultSendTimeout bounds a single agent Send.
const DefaultSendTimeout = 2 * time.Minute

// Dispatcher fans notifications out to registered agents. Each eligible
// agent runs in its own goroutine; one agent failing never affects another.
type Dispatcher struct {
	mu      sync.RWMutex
	agents  []Agent
	wg      sync.WaitGroup
	timeout time.Duration
	log     *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	log = logutil.NoopIfNil(log)
	return &Dispatcher{timeout: DefaultSendTimeout, log: log}
}

// RegisterAgents appends agents to the registry.
func (d *Dispatcher) RegisterAgents(agents ...Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents = append(d.agents, agents...)
	for _, a := range agents {
		d.log.Info("registered notification agent", "agent", a.Name())
	}
}

// Agents returns a snapshot of the registry.
func (d *Dispatcher) Agents() []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Agent, len(d.agents))
	copy(out, d.agents)
	return out
}

// SendNotification starts delivery of p on every agent whose ShouldSend
// reports true and returns without waiting for delivery.
func (d *Dispatcher) SendNotification(typ Type, p Payload) {
	d.log.Info("sending notification", "type", typ.String(), "subject", p.Subject)
	metrics.NotificationsDispatched.WithLabelValues(typ.String()).Inc()

	for _, a := range d.Agents() {
		if !d.shouldSend(a) {
			continue
		}
		d.wg.Add(1)
		go d.run(a, typ, p)
	}
}

// Wait blocks until every in-flight Send has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) shouldSend(a Agent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification agent readiness check panicked", "agent", a.Name(), "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	return a.ShouldSend()
}

func (d *Dispatcher) run(a Agent, typ Type, p Payload) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification agent panicked", "agent", a.Name(), "type", typ.String(), "panic", fmt.Sprint(r))
			metrics.AgentSends.WithLabelValues(a.Name(), "panic").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if a.Send(ctx, typ, p) {
		metrics.AgentSends.WithLabelValues(a.Name(), "ok").Inc()
		return
	}
	d.log.Warn("notification agent reported failure", "agent", a.Name(), "type", typ.String(), "subject", p.Subject)
	metrics.AgentSends.WithLabelValues(a.Name(), "failed").Inc()
}
