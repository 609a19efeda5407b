// Package idempotency remembers the responses of order mutations so a
// repeated request with the same guid replays the first response instead of
// reaching the upstream again.
package idempotency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a response is replayed.
const DefaultTTL = time.Hour

type entry struct {
	response []byte
	expires  time.Time
}

// Cache maps request keys to response bytes for a bounded time.
// Failed calls are never stored.
type Cache struct {
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group
	now   func() time.Time
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Key builds the cache key of a request.
func Key(opcode, guid string) string {
	return opcode + "|" + guid
}

// Get returns the stored response for key, if any.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.response, true
}

// Do returns the stored response for key, or runs fn and stores its result.
// Concurrent calls with the same key share one fn call. The returned bool
// reports whether the response was replayed.
func (c *Cache) Do(key string, fn func() ([]byte, error)) ([]byte, bool, error) {
	if resp, ok := c.Get(key); ok {
		return resp, true, nil
	}

	var ran bool
	v, err, _ := c.group.Do(key, func() (any, error) {
		if resp, ok := c.Get(key); ok {
			return resp, nil
		}
		ran = true
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{response: resp, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), !ran, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var n int
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run purges expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = c.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				c.logger.Debug("purged idempotency entries", "count", n)
			}
		}
	}
}
