package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/floodgate/idempotency"
	"github.com/xraph/floodgate/statestore/memory"
)

func TestKeyStableAcrossEncodings(t *testing.T) {
	a, err := idempotency.Key("search", "query", json.RawMessage(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, err := idempotency.Key("search", "query", json.RawMessage(`{ "a": 1, "b": 2 }`))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a != b {
		t.Fatalf("keys differ for equivalent params: %q vs %q", a, b)
	}
}

func TestKeyDistinguishesCalls(t *testing.T) {
	params := json.RawMessage(`{"q":"weather"}`)
	k1, _ := idempotency.Key("search", "query", params)
	k2, _ := idempotency.Key("search", "fetch", params)
	k3, _ := idempotency.Key("browse", "query", params)
	k4, _ := idempotency.Key("search", "query", json.RawMessage(`{"q":"news"}`))

	seen := map[string]bool{k1: true}
	for _, k := range []string{k2, k3, k4} {
		if seen[k] {
			t.Fatalf("key collision: %q", k)
		}
		seen[k] = true
	}
}

func TestCanonicalizeNested(t *testing.T) {
	got, err := idempotency.Canonicalize(json.RawMessage(`{"z":{"b":[2,1],"a":true},"a":null}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":null,"z":{"a":true,"b":[2,1]}}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalizePreservesNumberPrecision(t *testing.T) {
	got, err := idempotency.Canonicalize(json.RawMessage(`{"n":12345678901234567890}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(got) != `{"n":12345678901234567890}` {
		t.Fatalf("canonical = %s, precision lost", got)
	}
}

func TestDoCachesResult(t *testing.T) {
	cache := idempotency.New(memory.New())
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"answer":42}`), nil
	}

	result, cached, err := cache.Do(ctx, "k1", fn)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if cached {
		t.Fatal("first call reported cached")
	}
	if string(result) != `{"answer":42}` {
		t.Fatalf("result = %s", result)
	}

	result, cached, err = cache.Do(ctx, "k1", fn)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !cached {
		t.Fatal("second call not served from cache")
	}
	if string(result) != `{"answer":42}` {
		t.Fatalf("cached result = %s", result)
	}
	if calls != 1 {
		t.Fatalf("fn ran %d times, want 1", calls)
	}
}

func TestDoErrorsNotCached(t *testing.T) {
	cache := idempotency.New(memory.New())
	ctx := context.Background()

	calls := 0
	_, _, err := cache.Do(ctx, "k1", func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	result, cached, err := cache.Do(ctx, "k1", func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`ok`), nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if cached {
		t.Fatal("error outcome was cached")
	}
	if string(result) != "ok" || calls != 2 {
		t.Fatalf("result = %s, calls = %d", result, calls)
	}
}

func TestDoCollapsesConcurrentCalls(t *testing.T) {
	cache := idempotency.New(memory.New())
	ctx := context.Background()

	var calls atomic.Int64
	gate := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-gate
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, _, err := cache.Do(ctx, "same", fn)
			if err != nil {
				t.Errorf("Do: %v", err)
				return
			}
			results[i] = string(result)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	for i, r := range results {
		if r != "shared" {
			t.Fatalf("results[%d] = %q", i, r)
		}
	}
}

func TestEmptyKeyBypassesCache(t *testing.T) {
	cache := idempotency.New(memory.New())
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		_, cached, err := cache.Do(ctx, "", func(ctx context.Context) ([]byte, error) {
			calls++
			return []byte("x"), nil
		})
		if err != nil || cached {
			t.Fatalf("err = %v, cached = %v", err, cached)
		}
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTTLExpiry(t *testing.T) {
	cache := idempotency.New(memory.New(), idempotency.WithTTL(10*time.Millisecond))
	ctx := context.Background()

	if err := cache.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missing")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("expired entry still served")
	}
}
