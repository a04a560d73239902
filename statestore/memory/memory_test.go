package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/floodgate/statestore/memory"
)

func TestIncrWithCeiling_StopsAtCeiling(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v, ok, err := s.IncrWithCeiling(ctx, "c", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok || v != int64(i) {
			t.Errorf("increment %d: got (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}

	v, ok, err := s.IncrWithCeiling(ctx, "c", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("increment past ceiling succeeded, value %d", v)
	}
	if v != 3 {
		t.Errorf("value after denied increment = %d, want 3", v)
	}
}

func TestIncrWithCeiling_ConcurrentNeverExceeds(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	const ceiling = 5

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.IncrWithCeiling(ctx, "c", ceiling); ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != ceiling {
		t.Errorf("granted %d increments, want exactly %d", count, ceiling)
	}
}

func TestSet_Get_TTL(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("set error: %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get = (%q, %v, %v), want hit", v, ok, err)
	}
	if string(v) != "v" {
		t.Errorf("value = %q, want %q", v, "v")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expired key still readable")
	}
}

func TestSetNX(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.SetNX(ctx, "k", []byte("b"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("second SetNX on existing key succeeded")
	}

	v, _, _ := s.Get(ctx, "k")
	if string(v) != "a" {
		t.Errorf("value = %q, want original %q", v, "a")
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	// CAS on a missing key never matches.
	ok, err := s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("CAS on missing key succeeded")
	}

	_ = s.Set(ctx, "k", []byte("a"), 0)

	ok, _ = s.CompareAndSwap(ctx, "k", []byte("x"), []byte("b"), 0)
	if ok {
		t.Error("CAS with stale prev succeeded")
	}

	ok, _ = s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), 0)
	if !ok {
		t.Error("CAS with matching prev failed")
	}
	v, _, _ := s.Get(ctx, "k")
	if string(v) != "b" {
		t.Errorf("value after CAS = %q, want %q", v, "b")
	}
}

func TestDeleteIfEquals(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	_ = s.Set(ctx, "lock", []byte("owner-1"), 0)

	ok, _ := s.DeleteIfEquals(ctx, "lock", []byte("owner-2"))
	if ok {
		t.Error("DeleteIfEquals removed key held by another owner")
	}
	ok, _ = s.DeleteIfEquals(ctx, "lock", []byte("owner-1"))
	if !ok {
		t.Error("DeleteIfEquals failed for the owner")
	}
	if _, exists, _ := s.Get(ctx, "lock"); exists {
		t.Error("key still present after DeleteIfEquals")
	}
}

func TestZPopBelow_ReturnsExpiredLowestFirst(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	_ = s.ZAdd(ctx, "z", "c", 30)
	_ = s.ZAdd(ctx, "z", "a", 10)
	_ = s.ZAdd(ctx, "z", "b", 20)
	_ = s.ZAdd(ctx, "z", "d", 99)

	got, err := s.ZPopBelow(ctx, "z", 30, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("popped %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("popped[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	n, _ := s.ZCard(ctx, "z")
	if n != 1 {
		t.Errorf("remaining cardinality = %d, want 1", n)
	}

	// Popped members must not come back.
	again, _ := s.ZPopBelow(ctx, "z", 30, 0)
	if len(again) != 0 {
		t.Errorf("second pop returned %v, want empty", again)
	}
}

func TestZPopBelow_Limit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i, m := range []string{"a", "b", "c"} {
		_ = s.ZAdd(ctx, "z", m, float64(i))
	}

	got, _ := s.ZPopBelow(ctx, "z", 100, 2)
	if len(got) != 2 {
		t.Errorf("popped %d members, want 2", len(got))
	}
}
