// Package statestore defines the shared coordination-state interface used
// by admission counters, circuit breakers, idempotency caches, and lease
// bookkeeping. All cross-process coordination goes through these atomic
// primitives — no floodgate component holds an in-process lock across a
// network call.
//
// Backends: memory (single process, tests) and redis (multi-instance
// production). All operations are atomic with respect to concurrent
// callers, including callers in other processes sharing the same backend.
package statestore

import (
	"context"
	"time"
)

// Store is the shared-state contract. Keys are opaque strings; callers
// namespace them by tenant and/or tool identity.
type Store interface {
	// Incr atomically adds delta to the integer cell at key and returns
	// the new value. Missing keys count from zero.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// IncrWithCeiling atomically increments the integer cell at key by one
	// if its current value is below ceiling. Returns the resulting value
	// and whether the increment was applied.
	IncrWithCeiling(ctx context.Context, key string, ceiling int64) (int64, bool, error)

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value at key. A positive ttl bounds the entry's lifetime;
	// zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value at key only if the key does not exist.
	// Returns whether the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value at key with next only if the
	// current value equals prev. Returns whether the swap happened.
	// A missing key never matches.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Returns whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteIfEquals removes key only if its current value equals value.
	// Returns whether the key was removed. Used for safe lock release.
	DeleteIfEquals(ctx context.Context, key string, value []byte) (bool, error)

	// ZAdd inserts or updates member in the sorted set at key with the
	// given score.
	ZAdd(ctx context.Context, key, member string, score float64) error

	// ZRem removes members from the sorted set at key and returns how
	// many were present and removed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)

	// ZPopBelow atomically removes and returns up to limit members of the
	// sorted set at key whose score is at most max, lowest scores first.
	// A limit of zero or less means no bound.
	ZPopBelow(ctx context.Context, key string, max float64, limit int64) ([]string, error)

	// ZCard returns the cardinality of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
