// Package idempotency deduplicates tool calls. A call's key is derived
// from its tool, operation, and canonicalized parameters. Results are
// cached with a TTL so a retried or replayed request returns the
// recorded result instead of re-running the side effect. Concurrent
// calls with the same key collapse onto one in-flight execution.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/floodgate/statestore"
)

const keyPrefix = "floodgate:idem:"

// record is the cached outcome of a call.
type record struct {
	Result   []byte    `msgpack:"result"`
	StoredAt time.Time `msgpack:"stored_at"`
}

// Cache stores call results keyed by idempotency key.
type Cache struct {
	store  statestore.Store
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long cached results are kept.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the cache's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over a state store.
func New(store statestore.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    time.Hour,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives a stable idempotency key for a call. Parameters are
// canonicalized (object keys sorted recursively) before hashing, so two
// JSON encodings of the same value produce the same key.
func Key(tool, operation string, params json.RawMessage) (string, error) {
	canon, err := Canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize parameters: %w", err)
	}
	h := xxhash.New()
	h.WriteString(tool)
	h.Write([]byte{0})
	h.WriteString(operation)
	h.Write([]byte{0})
	h.Write(canon)
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Do returns the cached result for key, or runs fn and caches its
// result. The bool reports whether the result came from the cache.
// Errors from fn are never cached. Concurrent callers with the same key
// share one execution of fn.
func (c *Cache) Do(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if key == "" {
		result, err := fn(ctx)
		return result, false, err
	}

	if result, ok, err := c.Get(ctx, key); err != nil {
		c.logger.Warn("idempotency lookup failed", "key", key, "error", err)
	} else if ok {
		return result, true, nil
	}

	type outcome struct {
		result []byte
		cached bool
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight lock: a concurrent caller may have
		// stored the result between our lookup and here.
		if result, ok, err := c.Get(ctx, key); err == nil && ok {
			return outcome{result: result, cached: true}, nil
		}
		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if storeErr := c.Put(ctx, key, result); storeErr != nil {
			c.logger.Warn("idempotency store failed", "key", key, "error", storeErr)
		}
		return outcome{result: result}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(outcome)
	return out.result, out.cached, nil
}

// Get returns the cached result for key, if present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return rec.Result, true, nil
}

// Put caches a result under key for the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, result []byte) error {
	raw, err := msgpack.Marshal(record{Result: result, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	return c.store.Set(ctx, keyPrefix+key, raw, c.ttl)
}

// Canonicalize rewrites a JSON document with object keys sorted
// recursively. Nil or empty input canonicalizes to "null".
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
