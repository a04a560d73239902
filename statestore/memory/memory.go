// Package memory implements statestore.Store with in-process maps.
// Safe for concurrent access. Intended for unit testing, development,
// and single-instance deployments.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/floodgate/statestore"
)

// Compile-time interface check.
var _ statestore.Store = (*Store)(nil)

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Store is a fully in-memory implementation of statestore.Store.
type Store struct {
	mu       sync.Mutex
	items    map[string]*item
	counters map[string]int64
	zsets    map[string]map[string]float64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items:    make(map[string]*item),
		counters: make(map[string]int64),
		zsets:    make(map[string]map[string]float64),
	}
}

// get returns the live item at key, dropping it if expired.
// Caller must hold mu.
func (s *Store) get(key string) (*item, bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return it, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// Incr atomically adds delta to the counter at key.
func (s *Store) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key] += delta
	return s.counters[key], nil
}

// IncrWithCeiling increments the counter at key if it is below ceiling.
func (s *Store) IncrWithCeiling(_ context.Context, key string, ceiling int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.counters[key]
	if cur >= ceiling {
		return cur, false, nil
	}
	s.counters[key] = cur + 1
	return cur + 1, true, nil
}

// Get returns the value at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(it.value))
	copy(cp, it.value)
	return cp, true, nil
}

// Set stores value at key with an optional TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.items[key] = &item{value: cp, expiresAt: expiry(ttl)}
	return nil
}

// SetNX stores value at key only if absent.
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.items[key] = &item{value: cp, expiresAt: expiry(ttl)}
	return true, nil
}

// CompareAndSwap replaces the value at key if it currently equals prev.
func (s *Store) CompareAndSwap(_ context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.get(key)
	if !ok || !bytes.Equal(it.value, prev) {
		return false, nil
	}
	cp := make([]byte, len(next))
	copy(cp, next)
	s.items[key] = &item{value: cp, expiresAt: expiry(ttl)}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.get(key)
	delete(s.items, key)
	delete(s.counters, key)
	return existed, nil
}

// DeleteIfEquals removes key only if it holds value.
func (s *Store) DeleteIfEquals(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.get(key)
	if !ok || !bytes.Equal(it.value, value) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// ZAdd inserts or updates member with score.
func (s *Store) ZAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zsets[key]
	if !ok {
		return 0, nil
	}
	var removed int64
	for _, m := range members {
		if _, present := z[m]; present {
			delete(z, m)
			removed++
		}
	}
	if len(z) == 0 {
		delete(s.zsets, key)
	}
	return removed, nil
}

// ZPopBelow removes and returns members scoring at most max.
func (s *Store) ZPopBelow(_ context.Context, key string, max float64, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}

	type scored struct {
		member string
		score  float64
	}
	candidates := make([]scored, 0, len(z))
	for m, sc := range z {
		if sc <= max {
			candidates = append(candidates, scored{m, sc})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].member < candidates[j].member
	})

	if limit > 0 && int64(len(candidates)) > limit {
		candidates = candidates[:limit]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.member
		delete(z, c.member)
	}
	if len(z) == 0 {
		delete(s.zsets, key)
	}
	return out, nil
}

// ZCard returns the size of the sorted set at key.
func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.zsets[key])), nil
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
