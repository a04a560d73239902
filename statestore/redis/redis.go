// Package redis implements statestore.Store on a Redis-compatible server.
// Compound operations (ceiling-bounded increment, compare-and-swap,
// conditional delete, expired-member pop) run as Lua scripts so they stay
// atomic across multiple gateway instances sharing one Redis.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstate.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/floodgate/statestore"
)

// Compile-time interface check.
var _ statestore.Store = (*Store)(nil)

var (
	// incrCeilingScript increments KEYS[1] only while below ARGV[1].
	// Returns {value, applied}.
	incrCeilingScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[1]) then
  return {c, 0}
end
c = redis.call('INCR', KEYS[1])
return {c, 1}
`)

	// casScript swaps KEYS[1] from ARGV[1] to ARGV[2] with optional TTL
	// in milliseconds (ARGV[3], 0 for none). Returns 1 on swap.
	casScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

	// delIfEqScript deletes KEYS[1] only if it holds ARGV[1].
	delIfEqScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

	// zpopBelowScript removes and returns up to ARGV[2] members of KEYS[1]
	// scoring at most ARGV[1], lowest first.
	zpopBelowScript = redis.NewScript(`
local m = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #m > 0 then
  redis.call('ZREM', KEYS[1], unpack(m))
end
return m
`)
)

// Store implements statestore.Store backed by Redis. The caller owns the
// Redis client lifecycle.
type Store struct {
	client redis.Cmdable
}

// New creates a Redis-backed state store.
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Incr atomically adds delta to the integer cell at key.
func (s *Store) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("statestore/redis: incr %q: %w", key, err)
	}
	return v, nil
}

// IncrWithCeiling increments the cell at key only while below ceiling.
func (s *Store) IncrWithCeiling(ctx context.Context, key string, ceiling int64) (int64, bool, error) {
	res, err := incrCeilingScript.Run(ctx, s.client, []string{key}, ceiling).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("statestore/redis: incr ceiling %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("statestore/redis: incr ceiling %q: unexpected reply %v", key, res)
	}
	return res[0], res[1] == 1, nil
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statestore/redis: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value at key with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("statestore/redis: set %q: %w", key, err)
	}
	return nil
}

// SetNX stores value at key only if absent.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("statestore/redis: setnx %q: %w", key, err)
	}
	return ok, nil
}

// CompareAndSwap replaces the value at key if it currently equals prev.
func (s *Store) CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{key}, prev, next, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("statestore/redis: cas %q: %w", key, err)
	}
	return n == 1, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("statestore/redis: del %q: %w", key, err)
	}
	return n > 0, nil
}

// DeleteIfEquals removes key only if it holds value.
func (s *Store) DeleteIfEquals(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := delIfEqScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("statestore/redis: del-if-equals %q: %w", key, err)
	}
	return n == 1, nil
}

// ZAdd inserts or updates member with score.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("statestore/redis: zadd %q: %w", key, err)
	}
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	removed, err := s.client.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("statestore/redis: zrem %q: %w", key, err)
	}
	return removed, nil
}

// ZPopBelow removes and returns members scoring at most max.
func (s *Store) ZPopBelow(ctx context.Context, key string, max float64, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = -1 // Redis LIMIT -1 means unbounded.
	}
	members, err := zpopBelowScript.Run(ctx, s.client, []string{key}, max, limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("statestore/redis: zpopbelow %q: %w", key, err)
	}
	return members, nil
}

// ZCard returns the size of the sorted set at key.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("statestore/redis: zcard %q: %w", key, err)
	}
	return n, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("statestore/redis: ping: %w", err)
	}
	return nil
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
