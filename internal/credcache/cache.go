// ABOUTME: Thread-safe sharded TTL cache for verified credentials.
// ABOUTME: Lazy expiry on read, size-capped per shard, periodic background sweep.

package credcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// SweepInterval is how often the background goroutine drops expired entries.
const SweepInterval = time.Minute

// entry stores a cached value, its expiry and its position in the shard order.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	element   *list.Element
}

// shard owns an independent slice of the key space so that lookups for
// different credentials rarely contend on the same lock.
type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	order   *list.List // keys in insertion order (oldest at front)
}

// Cache maps a raw credential to a verified value for a bounded time.
// Keys are stored as sha256 digests so raw credentials never sit in memory
// longer than the request that carried them.
type Cache[V any] struct {
	shards      [shardCount]*shard[V]
	ttl         time.Duration
	maxPerShard int
	now         func() time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now   func() time.Time
	sweep bool
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithoutSweep disables the background sweep goroutine; expired entries are
// then only dropped when read or evicted.
func WithoutSweep() Option {
	return func(o *options) { o.sweep = false }
}

// New creates a cache whose entries live at most ttl and which holds at most
// maxSize entries. A maxSize below shardCount is rounded up to one entry per shard.
func New[V any](ttl time.Duration, maxSize int, opts ...Option) *Cache[V] {
	o := options{now: time.Now, sweep: true}
	for _, opt := range opts {
		opt(&o)
	}

	perShard := maxSize / shardCount
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache[V]{
		ttl:         ttl,
		maxPerShard: perShard,
		now:         o.now,
		done:        make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{
			entries: make(map[string]*entry[V]),
			order:   list.New(),
		}
	}

	if o.sweep {
		go c.sweepLoop()
	}
	return c
}

// TTL returns the maximum lifetime of an entry.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value cached for credential. An expired entry is treated as
// a miss and removed.
func (c *Cache[V]) Get(credential string) (V, bool) {
	var zero V
	key := digest(credential)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		s.removeLocked(e)
		return zero, false
	}
	return e.value, true
}

// Put caches value for credential until the earlier of now+TTL and notAfter.
// A zero notAfter means the credential carries no expiry of its own.
// Nothing is stored when the effective lifetime is not positive.
func (c *Cache[V]) Put(credential string, value V, notAfter time.Time) {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	if !notAfter.IsZero() && notAfter.Before(expiresAt) {
		expiresAt = notAfter
	}
	if !now.Before(expiresAt) {
		return
	}

	key := digest(credential)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists {
		e.value = value
		e.expiresAt = expiresAt
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.entries) >= c.maxPerShard {
		s.evictOldestLocked()
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	e.element = s.order.PushBack(e)
	s.entries[key] = e
}

// Delete drops the entry for credential, if any.
func (c *Cache[V]) Delete(credential string) {
	key := digest(credential)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.removeLocked(e)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()
	dropped := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			if !now.Before(e.expiresAt) {
				s.removeLocked(e)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// Close stops the background sweep goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
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

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// removeLocked drops e. Must be called with mu held.
func (s *shard[V]) removeLocked(e *entry[V]) {
	s.order.Remove(e.element)
	delete(s.entries, e.key)
}

// evictOldestLocked removes the oldest entry. Must be called with mu held.
func (s *shard[V]) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry[V])
	s.removeLocked(e)
}

// digest returns the hex sha256 of a credential.
func digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, log-safe identifier for a credential.
func Fingerprint(credential string) string {
	return digest(credential)[:12]
}
