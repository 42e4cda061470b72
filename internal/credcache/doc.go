// Package credcache provides a bounded, sharded TTL cache for the results of
// verifying presented credentials.
package credcache
