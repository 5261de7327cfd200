// Package redis provides the Redis/Valkey cache driver backed by valkey-go.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any, log *slog.Logger) (cache.CacheWithCounter, error) {
		cfg := DefaultConfig()
		if v, ok := config["addr"].(string); ok && v != "" {
			cfg.Addr = v
		}
		if v, ok := config["password"].(string); ok {
			cfg.Password = v
		}
		if v, ok := cache.ToInt(config["db"]); ok {
			cfg.DB = v
		}
		if v, ok := cache.ToInt(config["dial_timeout_ms"]); ok && v > 0 {
			cfg.DialTimeout = time.Duration(v) * time.Millisecond
		}
		if v, ok := config["key_prefix"].(string); ok {
			cfg.KeyPrefix = v
		}
		return New(cfg, log)
	})
}

// Config holds Redis connection configuration.
type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	// KeyPrefix namespaces every key so several instances can share a server.
	KeyPrefix string
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		KeyPrefix:   "streamarr:",
	}
}

// Cache implements cache.CacheWithCounter on top of a valkey client.
type Cache struct {
	client valkey.Client
	prefix string
	log    *slog.Logger
}

// New connects to Redis and fails fast when the server is unreachable.
func New(cfg *Config, log *slog.Logger) (*Cache, error) {
	log = logutil.NoopIfNil(log)
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		Dialer:       net.Dialer{Timeout: cfg.DialTimeout},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info("redis cache connected", "addr", cfg.Addr, "db", cfg.DB)
	return &Cache{client: client, prefix: cfg.KeyPrefix, log: log}, nil
}

func (c *Cache) key(k string) string { return c.prefix + k }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	return b, err
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(key)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment runs INCRBY and starts the window expiry when the key is new.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	if ttl <= 0 {
		ttl = cache.TTLRateLimit
	}
	k := c.key(key)
	n, err := c.client.Do(ctx, c.client.B().Incrby().Key(k).Increment(delta).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, err
	}
	if n == delta {
		if err := c.client.Do(ctx, c.client.B().Pexpire().Key(k).Milliseconds(ttl.Milliseconds()).Build()).Error(); err != nil {
			return n, time.Time{}, err
		}
		return n, time.Now().Add(ttl), nil
	}

	pttl, err := c.client.Do(ctx, c.client.B().Pttl().Key(k).Build()).AsInt64()
	if err != nil {
		return n, time.Time{}, err
	}
	if pttl < 0 {
		// Key lost its expiry; restart the window.
		_ = c.client.Do(ctx, c.client.B().Pexpire().Key(k).Milliseconds(ttl.Milliseconds()).Build()).Error()
		pttl = ttl.Milliseconds()
	}
	return n, time.Now().Add(time.Duration(pttl) * time.Millisecond), nil
}

func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	return n, err
}

func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
