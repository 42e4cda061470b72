// ABOUTME: Tests for the verified-credential cache.
// ABOUTME: Validates TTL expiry, credential expiry clamp, size limits, sweep, and concurrency safety.

package credcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_GetMiss(t *testing.T) {
	cache := New[string](5*time.Minute, 100, WithoutSweep())
	defer cache.Close()

	_, ok := cache.Get("never-seen")
	assert.False(t, ok)
}

func TestCache_PutGet(t *testing.T) {
	cache := New[string](5*time.Minute, 100, WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", time.Time{})

	v, ok := cache.Get("cred-1")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](5*time.Minute, 100, WithClock(clock.Now), WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", time.Time{})

	clock.Advance(4*time.Minute + 59*time.Second)
	_, ok := cache.Get("cred-1")
	assert.True(t, ok, "entry younger than TTL should hit")

	clock.Advance(time.Second)
	_, ok = cache.Get("cred-1")
	assert.False(t, ok, "entry at TTL should miss")
	assert.Equal(t, 0, cache.Len(), "expired entry should be dropped on read")
}

func TestCache_CredentialExpiryClampsTTL(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](5*time.Minute, 100, WithClock(clock.Now), WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", clock.Now().Add(time.Minute))

	clock.Advance(59 * time.Second)
	_, ok := cache.Get("cred-1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Get("cred-1")
	assert.False(t, ok, "entry must not outlive the credential")
}

func TestCache_AlreadyExpiredCredentialNotStored(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](5*time.Minute, 100, WithClock(clock.Now), WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", clock.Now().Add(-time.Second))

	assert.Equal(t, 0, cache.Len())
}

func TestCache_PutOverwrites(t *testing.T) {
	cache := New[string](5*time.Minute, 100, WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", time.Time{})
	cache.Put("cred-1", "bob", time.Time{})

	v, ok := cache.Get("cred-1")
	require.True(t, ok)
	assert.Equal(t, "bob", v)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Delete(t *testing.T) {
	cache := New[string](5*time.Minute, 100, WithoutSweep())
	defer cache.Close()

	cache.Put("cred-1", "alice", time.Time{})
	cache.Delete("cred-1")

	_, ok := cache.Get("cred-1")
	assert.False(t, ok)
}

func TestCache_SizeBounded(t *testing.T) {
	maxSize := 64
	cache := New[int](5*time.Minute, maxSize, WithoutSweep())
	defer cache.Close()

	for i := 0; i < maxSize*10; i++ {
		cache.Put(fmt.Sprintf("cred-%d", i), i, time.Time{})
	}

	assert.LessOrEqual(t, cache.Len(), maxSize)

	// The most recent credential always survives eviction.
	v, ok := cache.Get(fmt.Sprintf("cred-%d", maxSize*10-1))
	require.True(t, ok)
	assert.Equal(t, maxSize*10-1, v)
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](5*time.Minute, 100, WithClock(clock.Now), WithoutSweep())
	defer cache.Close()

	cache.Put("short", "a", clock.Now().Add(time.Minute))
	cache.Put("long", "b", time.Time{})

	clock.Advance(2 * time.Minute)
	dropped := cache.Sweep()

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("long")
	assert.True(t, ok)
}

func TestCache_Close_Idempotent(t *testing.T) {
	cache := New[string](5*time.Minute, 100)

	cache.Close()
	cache.Close()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New[int](5*time.Minute, 1000, WithoutSweep())
	defer cache.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("cred-%d-%d", g, i%20)
				cache.Put(key, i, time.Time{})
				cache.Get(key)
				if i%50 == 0 {
					cache.Sweep()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 1000)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("some.credential.value")

	assert.Len(t, fp, 12)
	assert.Equal(t, fp, Fingerprint("some.credential.value"))
	assert.NotEqual(t, fp, Fingerprint("other.credential.value"))
}
