package prism

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSweepInterval = time.Minute

// SessionCache holds one sealed SessionState per key id. Implementations
// must be safe for concurrent use; callers serialize work on a single key id
// with Lock.
type SessionCache interface {
	Get(keyID string) ([]byte, bool)
	Put(keyID string, blob []byte)
	Delete(keyID string)
	// Lock acquires the per-keyID mutex and returns its release function.
	Lock(keyID string) func()
}

type cacheEntry struct {
	blob    []byte
	expires time.Time
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// MemorySessionCache is an in-process SessionCache with absolute expiry.
type MemorySessionCache struct {
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

// NewMemorySessionCache creates a cache whose entries expire ttl after Put.
func NewMemorySessionCache(ttl time.Duration, now func() time.Time, logger zerolog.Logger) *MemorySessionCache {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionCache{
		ttl:     ttl,
		now:     now,
		logger:  logger.With().Str("component", "session_cache").Logger(),
		entries: make(map[string]cacheEntry),
		locks:   make(map[string]*keyLock),
	}
}

func (c *MemorySessionCache) Get(keyID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[keyID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, keyID)
		return nil, false
	}
	return e.blob, true
}

func (c *MemorySessionCache) Put(keyID string, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[keyID] = cacheEntry{blob: blob, expires: c.now().Add(c.ttl)}
}

func (c *MemorySessionCache) Delete(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyID)
}

// Len returns the number of live and not yet swept entries.
func (c *MemorySessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemorySessionCache) Lock(keyID string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[keyID]
	if !ok {
		l = &keyLock{}
		c.locks[keyID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, keyID)
		}
		c.locksMu.Unlock()
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (c *MemorySessionCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Run sweeps expired entries every interval until ctx is done.
func (c *MemorySessionCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug().Int("dropped", n).Msg("swept expired sessions")
			}
		}
	}
}
