// Package memory is the process-local cache driver. It backs sessions and
// login/signup rate limits when Streamarr runs as a single instance.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
)

const (
	defaultTTL   = 15 * time.Minute
	defaultSweep = 5 * time.Minute
)

func init() {
	cache.RegisterDriver("memory", func(config map[string]any, _ *slog.Logger) (cache.CacheWithCounter, error) {
		return New(
			seconds(config, "default_ttl_seconds", defaultTTL),
			seconds(config, "cleanup_interval_seconds", defaultSweep),
		), nil
	})
}

// seconds reads a positive whole-second setting, falling back to def.
func seconds(config map[string]any, key string, def time.Duration) time.Duration {
	if v, ok := config[key]; ok {
		if n, ok := cache.ToInt(v); ok && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// entry is a session blob or a rate-limit window.
type entry struct {
	value   []byte
	count   int64
	expires time.Time
}

func (e *entry) liveAt(now time.Time) bool {
	return now.Before(e.expires)
}

// Cache keeps values and counters in two maps so a session key and a
// rate-limit key with the same name never collide.
type Cache struct {
	mu       sync.RWMutex
	values   map[string]*entry
	counters map[string]*entry
	ttl      time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New returns a cache whose zero TTLs mean ttl. A positive sweep interval
// starts a goroutine that drops expired entries until Close.
func New(ttl, sweep time.Duration) *Cache {
	c := &Cache{
		values:   make(map[string]*entry),
		counters: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweepEvery(sweep)
	}
	return c
}

// WithClock replaces the time source. Tests only.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *Cache) sweepEvery(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep drops every expired value and counter.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, m := range []map[string]*entry{c.values, c.counters} {
		for k, e := range m {
			if !e.liveAt(now) {
				delete(m, k)
			}
		}
	}
}

// Len reports how many values and counters are held, expired or not.
func (c *Cache) Len() (values, counters int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values), len(c.counters)
}

func (c *Cache) ttlOr(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.ttl
	}
	return ttl
}

// Get returns a copy of the value under key. An entry past its TTL that
// the sweeper has not reached yet reports cache.ErrExpired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.values[key]
	switch {
	case !ok:
		return nil, cache.ErrNotFound
	case !e.liveAt(c.now()):
		return nil, cache.ErrExpired
	}
	return append([]byte(nil), e.value...), nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = &entry{
		value:   append([]byte(nil), value...),
		expires: c.now().Add(c.ttlOr(ttl)),
	}
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.values[key]
	return ok && e.liveAt(c.now()), nil
}

// Increment counts within a fixed window. The first hit, or the first
// after the window lapsed, opens a new window of ttl; later hits keep
// the original reset time.
func (c *Cache) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.counters[key]
	if !ok || !e.liveAt(now) {
		e = &entry{expires: now.Add(c.ttlOr(ttl))}
		c.counters[key] = e
	}
	e.count += delta
	return e.count, e.expires, nil
}

func (c *Cache) GetCount(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.counters[key]; ok && e.liveAt(c.now()) {
		return e.count, nil
	}
	return 0, nil
}

func (c *Cache) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
	return nil
}

// Close stops the sweeper. Calling it again is a no-op.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
