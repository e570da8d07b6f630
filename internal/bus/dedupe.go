package bus

import (
	"sync"
	"time"
)

// Default dedupe window and capacity.
const (
	DefaultDedupeTTL     = 20 * time.Minute
	DefaultDedupeMaxSize = 5000
)

// DedupeCache remembers message IDs for a TTL window, so messages the
// network redelivers after a reconnect are not recorded or forwarded twice.
// IDs are kept in arrival order: expiry only walks the stale head, and a full
// cache forgets its oldest ID first.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []dedupeEntry // oldest first, one entry per key in seen
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type dedupeEntry struct {
	key string
	at  time.Time
}

// NewDedupeCache creates a cache. maxSize <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		seen:    make(map[string]struct{}, 256),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// IsDuplicate reports whether key was seen within the TTL window, and
// records it when it was not.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(now)
	if _, ok := d.seen[key]; ok {
		return true
	}

	if d.maxSize > 0 && len(d.order) >= d.maxSize {
		d.dropHead(len(d.order) - d.maxSize + 1)
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, dedupeEntry{key: key, at: now})
	return false
}

// expire drops entries older than the TTL. Must be called with d.mu held.
func (d *DedupeCache) expire(now time.Time) {
	cutoff := now.Add(-d.ttl)
	n := 0
	for n < len(d.order) && d.order[n].at.Before(cutoff) {
		n++
	}
	d.dropHead(n)
}

func (d *DedupeCache) dropHead(n int) {
	if n <= 0 {
		return
	}
	for _, e := range d.order[:n] {
		delete(d.seen, e.key)
	}
	if n == len(d.order) {
		d.order = d.order[:0]
		return
	}
	d.order = append(d.order[:0], d.order[n:]...)
}

// Len returns the number of remembered keys.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
