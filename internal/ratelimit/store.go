// Package ratelimit provides a bounded, TTL-aware key-value store and the
// fixed-window limiters built on top of it. The store is value-agnostic: it
// never interprets the entries it holds.
package ratelimit

import (
	"context"
	"time"
)

// Store is a generic associative store keyed by caller-chosen strings (IP
// addresses, usernames, composite keys). Implementations may be purely
// in-process or backed by an external service; the contract is identical.
// A ttl of zero or less means the entry never expires on its own.
type Store[T any] interface {
	// Get returns the live value for key. Observing an expired entry
	// removes it and reports absence.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set inserts or replaces the entry for key. Replacing an existing
	// key never triggers eviction; inserting a new key may evict one
	// entry if the store is at capacity.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes the entry if present and reports whether it did.
	Delete(ctx context.Context, key string) (bool, error)

	// Has reports existence with the same lazy-expiry semantics as Get.
	Has(ctx context.Context, key string) (bool, error)

	// Size counts tracked entries. Expired entries that have not been
	// observed via Get or Has may still be counted.
	Size(ctx context.Context) (int, error)

	// Keys lists tracked keys, with the same caveat as Size.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes everything unconditionally.
	Clear(ctx context.Context) error
}
