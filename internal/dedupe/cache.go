// ABOUTME: Thread-safe TTL claim cache keyed by message or recall identifiers.
// ABOUTME: Used to drop redelivered events and to run each recall at most once.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type claim struct {
	at      time.Time
	element *list.Element
}

// Cache remembers claimed keys for a TTL. Claims are kept in insertion order
// so that the oldest one can be evicted in O(1) when the cache is full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithoutSweeper disables the background goroutine that drops expired claims.
// Expired claims are still ignored by Claim and Seen.
func WithoutSweeper() Option {
	return func(c *Cache) { c.done = nil }
}

// New creates a cache. Unless WithoutSweeper is given, a background goroutine
// sweeps expired claims every minute until Close is called.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.done != nil {
		go c.sweepLoop()
	}
	return c
}

// Claim records key and reports true if the caller is the first to claim it
// within the TTL. A false return means someone else already holds the claim.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, ok := c.claims[key]; ok {
		if now.Sub(existing.at) < c.ttl {
			return false
		}
		c.order.Remove(existing.element)
		delete(c.claims, key)
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.claims[key] = &claim{at: now, element: c.order.PushBack(key)}
	return true
}

// Seen reports whether key holds an unexpired claim.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.claims[key]
	return ok && c.now().Sub(existing.at) < c.ttl
}

// Release drops a claim so the key can be claimed again, for example after
// the claimed work failed before doing anything.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.claims[key]; ok {
		c.order.Remove(existing.element)
		delete(c.claims, key)
	}
}

// Len returns the number of claims held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// Sweep removes expired claims.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	// Claims are ordered by time, so stop at the first live one.
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.claims[key].at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.claims, key)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed && c.done != nil {
		close(c.done)
	}
	c.closed = true
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
