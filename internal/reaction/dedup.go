package reaction

import (
	"sync"
	"time"
)

// dedupCache suppresses duplicate deliveries of the same logical change
// within a fixed window. Resumable change feeds redeliver notifications
// after reconnect, so duplicates are expected, not exceptional.
type dedupCache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Seen reports whether key was recorded within the TTL window, recording it
// if not. An entry past its TTL is treated as unseen and re-recorded.
func (c *dedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if first, ok := c.seen[key]; ok && now.Sub(first) < c.ttl {
		return true
	}
	c.seen[key] = now
	return false
}

// Sweep drops entries older than the TTL and returns how many were removed.
// Cleanup is amortized here rather than on every insert.
func (c *dedupCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, first := range c.seen {
		if now.Sub(first) >= c.ttl {
			delete(c.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the current number of tracked keys.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
