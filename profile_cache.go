package session

import (
	"sync"
	"time"
)

// DefaultProfileTTL is the maximum age at which a cached profile is still
// served.
const DefaultProfileTTL = 60 * time.Second

type cacheEntry struct {
	userID    string
	profile   *UserProfile
	writtenAt time.Time
}

// ProfileCache is a single-slot, short-TTL cache that prevents redundant
// profile fetches across rapid successive auth events. One entry overwrites
// the previous regardless of user; a read hits only when both the user id
// and the TTL match. Each operation is a single synchronous step, so
// interleavings can only occur between, not within, cache operations.
type ProfileCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	entry *cacheEntry
}

// ProfileCacheOption customizes cache construction.
type ProfileCacheOption func(*ProfileCache)

// WithCacheTTL overrides the freshness window.
func WithCacheTTL(ttl time.Duration) ProfileCacheOption {
	return func(c *ProfileCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock injects a custom clock so tests can simulate TTL expiry
// deterministically.
func WithCacheClock(clock func() time.Time) ProfileCacheOption {
	return func(c *ProfileCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewProfileCache returns an empty cache.
func NewProfileCache(opts ...ProfileCacheOption) *ProfileCache {
	c := &ProfileCache{
		ttl: DefaultProfileTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached profile iff the entry belongs to userID and is
// still within TTL. Any miss evicts the slot, so a stale entry never
// resurfaces on a later call.
func (c *ProfileCache) Get(userID string) *UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return nil
	}
	if c.entry.userID != userID || c.now().Sub(c.entry.writtenAt) >= c.ttl {
		c.entry = nil
		return nil
	}
	return c.entry.profile
}

// Set overwrites the single slot unconditionally.
func (c *ProfileCache) Set(userID string, profile *UserProfile) {
	if profile == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &cacheEntry{
		userID:    userID,
		profile:   profile,
		writtenAt: c.now(),
	}
}

// Clear resets the slot. Called on sign out, on explicit cache clears, and
// whenever local evidence says the cache is stale.
func (c *ProfileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}
