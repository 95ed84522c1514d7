// Package statecache keeps the compact pedagogical state of a user on a
// piece of content. It is a best-effort key-value store: entries may expire
// or vanish and callers treat ErrMiss as "no prior state".
package statecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrMiss is returned by Get when nothing is cached for the key.
var ErrMiss = errors.New("statecache: miss")

// MaxStateChars bounds a stored compact state.
const MaxStateChars = 2000

// Cache reads and writes compact states.
type Cache interface {
	Get(ctx context.Context, userID, contentID string) (string, error)
	Set(ctx context.Context, userID, contentID, state string) error
	Close() error
}

// Config selects and tunes the cache backend. An empty RedisAddr selects the
// in-process cache.
type Config struct {
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	Prefix        string        `koanf:"prefix"`
	TTL           time.Duration `koanf:"ttl"`
}

// DefaultConfig keeps states for 30 days in the in-process cache.
func DefaultConfig() Config {
	return Config{
		Prefix: "lectio:state",
		TTL:    30 * 24 * time.Hour,
	}
}

// New returns a RedisCache when cfg.RedisAddr is set and a MemoryCache
// otherwise.
func New(ctx context.Context, cfg Config, log *zap.Logger) (Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RedisAddr == "" {
		log.Info("using in-process state cache")
		return NewMemoryCache(cfg.TTL), nil
	}
	c, err := NewRedisCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("using redis state cache", zap.String("addr", cfg.RedisAddr))
	return c, nil
}

type memoryEntry struct {
	state   string
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl never expires.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, userID, contentID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key("", userID, contentID)
	e, ok := c.entries[k]
	if !ok {
		return "", ErrMiss
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, k)
		return "", ErrMiss
	}
	return e.state, nil
}

func (c *MemoryCache) Set(_ context.Context, userID, contentID, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{state: clip(state)}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key("", userID, contentID)] = e
	return nil
}

func (c *MemoryCache) Close() error { return nil }

func key(prefix, userID, contentID string) string {
	k := userID + ":" + contentID
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}

func clip(s string) string {
	n := 0
	for i := range s {
		if n == MaxStateChars {
			return s[:i]
		}
		n++
	}
	return s
}
