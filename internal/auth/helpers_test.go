// ABOUTME: Shared test fixtures for the auth package
// ABOUTME: Fake key fetchers, a fake clock, and an RSA-backed test identity provider

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testAudience = "api://quotagate"
	testSecret   = "test-secret-key-for-jwt-signing-32b"
)

// fakeFetcher returns a configurable key set and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	keys  []*SigningKey
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeFetcher) FetchKeys(ctx context.Context) ([]*SigningKey, error) {
	f.calls.Add(1)

	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys, f.err
}

func (f *fakeFetcher) set(keys []*SigningKey, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = keys
	f.err = err
}

func (f *fakeFetcher) setBlock(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = ch
}

// countingKeys wraps a KeyProvider and counts lookups, one per signature check.
type countingKeys struct {
	inner KeyProvider
	calls atomic.Int32
}

func (c *countingKeys) GetKey(ctx context.Context, keyID string) (*SigningKey, error) {
	c.calls.Add(1)
	return c.inner.GetKey(ctx, keyID)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
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

// testIDP signs external credentials with its own RSA key.
type testIDP struct {
	kid string
	key *rsa.PrivateKey
}

func newTestIDP(t *testing.T, kid string) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &testIDP{kid: kid, key: key}
}

func (i *testIDP) signingKey() *SigningKey {
	return &SigningKey{KeyID: i.kid, Algorithm: "RS256", Key: &i.key.PublicKey}
}

func (i *testIDP) mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.kid
	signed, err := tok.SignedString(i.key)
	require.NoError(t, err)
	return signed
}

// externalClaims returns a typical identity provider claim set.
func externalClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"aud":   testAudience,
		"name":  "Ada Lovelace",
		"email": "ada@example.edu",
		"iat":   exp.Add(-time.Hour).Unix(),
		"exp":   exp.Unix(),
	}
}

// populatedRing returns a KeyRing already holding keys.
func populatedRing(t *testing.T, keys ...*SigningKey) (*KeyRing, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{keys: keys}
	ring := NewKeyRing(fetcher, KeyRingOptions{MissRefreshInterval: time.Millisecond})
	require.NoError(t, ring.Refresh(context.Background()))
	return ring, fetcher
}
