// ABOUTME: KeyRing caches the identity provider's public signing keys
// ABOUTME: Coalesced refreshes, refresh-on-miss for rotation, stale keys kept when the provider is down

package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// SigningKey is one public key published by the identity provider.
// Keys are never mutated; a refresh replaces the whole set.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// KeyFetcher retrieves the provider's current key set.
type KeyFetcher interface {
	FetchKeys(ctx context.Context) ([]*SigningKey, error)
}

// KeyProvider resolves a key id to a signing key.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string) (*SigningKey, error)
}

// errEmptyKeySet is returned when the provider answers with no usable keys.
// It counts as a failed refresh so a good set is never replaced by nothing.
var errEmptyKeySet = errors.New("provider returned no usable signing keys")

// keySnapshot is an immutable view of the key set.
type keySnapshot struct {
	keys        map[string]*SigningKey
	refreshedAt time.Time
}

// KeyRingOptions configures a KeyRing.
type KeyRingOptions struct {
	// FetchTimeout bounds a single fetch, independent of the caller's context.
	FetchTimeout time.Duration
	// MissRefreshInterval is the minimum spacing between refreshes triggered
	// by unknown key ids once the ring is populated.
	MissRefreshInterval time.Duration
	Logger              *slog.Logger
	Now                 func() time.Time
}

// KeyRing holds the last successfully fetched key set. Readers load the
// current snapshot without locking; refreshes build a new snapshot and swap
// it in, so a key handed to an in-flight verification stays valid for that
// verification even if a later set drops it.
type KeyRing struct {
	fetcher      KeyFetcher
	current      atomic.Pointer[keySnapshot]
	group        singleflight.Group
	missLimiter  *rate.Limiter
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewKeyRing creates an empty key ring. Nothing is fetched until the first
// Refresh or GetKey call.
func NewKeyRing(fetcher KeyFetcher, opts KeyRingOptions) *KeyRing {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MissRefreshInterval <= 0 {
		opts.MissRefreshInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &KeyRing{
		fetcher:      fetcher,
		missLimiter:  rate.NewLimiter(rate.Every(opts.MissRefreshInterval), 1),
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger.With("component", "keyring"),
		now:          opts.Now,
	}
}

// GetKey returns the key with the given id. An unknown id triggers one
// on-demand refresh before ErrKeyNotFound is returned. ErrKeyRingUnavailable
// is returned only when no key set has ever been fetched.
//
// Once the ring is populated, on-demand refreshes are limited to one per
// MissRefreshInterval. A miss inside that window, including one caused by a
// garbage kid, fails without fetching, so a key the provider has just rotated
// in can be rejected for at most one interval before it is picked up.
func (r *KeyRing) GetKey(ctx context.Context, keyID string) (*SigningKey, error) {
	snap := r.current.Load()
	if key, ok := snap.lookup(keyID); ok {
		return key, nil
	}

	if snap != nil && !r.missLimiter.Allow() {
		r.logger.Debug("on-demand key refresh suppressed", "kid", keyID)
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	if err := r.refresh(ctx); err != nil {
		if r.current.Load() == nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyRingUnavailable, err)
		}
		r.logger.Warn("key refresh failed, serving last known keys",
			"trigger", "unknown_kid",
			"kid", keyID,
			"error", err,
		)
	}

	if key, ok := r.current.Load().lookup(keyID); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
}

// Refresh fetches the key set now. On failure the previous set is kept; the
// error is logged and returned. It is used by the scheduled refresh.
func (r *KeyRing) Refresh(ctx context.Context) error {
	err := r.refresh(ctx)
	if err == nil {
		return nil
	}

	if r.current.Load() == nil {
		r.logger.Error("key refresh failed, no keys available", "error", err)
		return fmt.Errorf("%w: %w", ErrKeyRingUnavailable, err)
	}
	r.logger.Warn("key refresh failed, serving last known keys", "trigger", "scheduled", "error", err)
	return fmt.Errorf("refreshing keys: %w", err)
}

// LastRefreshed returns when the current set was fetched, or the zero time.
func (r *KeyRing) LastRefreshed() time.Time {
	snap := r.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.refreshedAt
}

// Len returns the number of keys in the current set.
func (r *KeyRing) Len() int {
	snap := r.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.keys)
}

// refresh runs at most one fetch at a time; concurrent callers share its
// result. The fetch itself is not cancelled when a waiting caller gives up,
// so a slow provider still gets a chance to populate the ring.
func (r *KeyRing) refresh(ctx context.Context) error {
	ch := r.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		keys, err := r.fetcher.FetchKeys(fetchCtx)
		if err != nil {
			return nil, err
		}

		snap := &keySnapshot{
			keys:        make(map[string]*SigningKey, len(keys)),
			refreshedAt: r.now(),
		}
		for _, k := range keys {
			if k == nil || k.KeyID == "" || k.Key == nil {
				continue
			}
			snap.keys[k.KeyID] = k
		}
		if len(snap.keys) == 0 {
			return nil, errEmptyKeySet
		}

		r.current.Store(snap)
		r.logger.Info("signing keys refreshed", "count", len(snap.keys))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *keySnapshot) lookup(keyID string) (*SigningKey, bool) {
	if s == nil {
		return nil, false
	}
	key, ok := s.keys[keyID]
	return key, ok
}
