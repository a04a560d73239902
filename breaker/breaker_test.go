package breaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/statestore/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, cfg breaker.Config) (*breaker.Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	b := breaker.New("test-tool", memory.New(), cfg, breaker.WithClock(clock.Now))
	return b, clock
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 3
	b, _ := newTestBreaker(t, cfg)
	ctx := context.Background()

	for i := range 3 {
		if err := b.Allow(ctx); err != nil {
			t.Fatalf("allow %d while closed: %v", i, err)
		}
		b.RecordFailure(ctx)
	}

	// Exactly FailureThreshold failures: the next call fails fast.
	err := b.Allow(ctx)
	if !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Errorf("Allow after %d failures = %v, want ErrCircuitOpen", 3, err)
	}

	state, _ := b.CurrentState(ctx)
	if state != breaker.StateOpen {
		t.Errorf("state = %s, want open", state)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 3
	b, _ := newTestBreaker(t, cfg)
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	b.RecordSuccess(ctx)
	b.RecordFailure(ctx)
	b.RecordFailure(ctx)

	// Two failures after the reset: still below threshold.
	if err := b.Allow(ctx); err != nil {
		t.Errorf("Allow = %v, want nil (failure count should have reset)", err)
	}
}

func TestBreaker_HalfOpenAfterTimeout_SingleProbe(t *testing.T) {
	cfg := breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		HalfOpenMaxCalls: 1,
		OpenTimeout:      10 * time.Second,
	}
	b, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	b.RecordFailure(ctx)
	if err := b.Allow(ctx); !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Fatalf("Allow while open = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(11 * time.Second)

	// Exactly one probe is admitted.
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("first probe denied: %v", err)
	}
	if err := b.Allow(ctx); !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Errorf("second concurrent probe = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	cfg := breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		HalfOpenMaxCalls: 1,
		OpenTimeout:      10 * time.Second,
	}
	b, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	b.RecordFailure(ctx)
	clock.Advance(11 * time.Second)

	if err := b.Allow(ctx); err != nil {
		t.Fatalf("probe denied: %v", err)
	}
	b.RecordFailure(ctx)

	state, _ := b.CurrentState(ctx)
	if state != breaker.StateOpen {
		t.Errorf("state after probe failure = %s, want open", state)
	}
	if err := b.Allow(ctx); !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Errorf("Allow after probe failure = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cfg := breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 2,
		OpenTimeout:      10 * time.Second,
	}
	b, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	b.RecordFailure(ctx)
	clock.Advance(11 * time.Second)

	for i := range 2 {
		if err := b.Allow(ctx); err != nil {
			t.Fatalf("probe %d denied: %v", i, err)
		}
		b.RecordSuccess(ctx)
	}

	state, _ := b.CurrentState(ctx)
	if state != breaker.StateClosed {
		t.Errorf("state after %d probe successes = %s, want closed", 2, state)
	}
	if err := b.Allow(ctx); err != nil {
		t.Errorf("Allow after close = %v, want nil", err)
	}
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *stateRecorder) EmitBreakerStateChanged(_ context.Context, tool string, from, to breaker.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+"->"+string(to))
}

func TestBreaker_EmitsTransitions(t *testing.T) {
	rec := &stateRecorder{}
	clock := &fakeClock{now: time.Now()}
	cfg := breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		HalfOpenMaxCalls: 1,
		OpenTimeout:      time.Second,
	}
	b := breaker.New("t", memory.New(), cfg,
		breaker.WithClock(clock.Now),
		breaker.WithEmitter(rec),
	)
	ctx := context.Background()

	b.RecordFailure(ctx) // closed -> open
	clock.Advance(2 * time.Second)
	_ = b.Allow(ctx)     // open -> half_open
	b.RecordSuccess(ctx) // half_open -> closed

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(rec.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", rec.transitions, want)
	}
	for i := range want {
		if rec.transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, rec.transitions[i], want[i])
		}
	}
}

func TestBreaker_SharedStateAcrossInstances(t *testing.T) {
	store := memory.New()
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 2
	clock := &fakeClock{now: time.Now()}

	// Two breaker instances (as in two gateway processes) share state.
	b1 := breaker.New("shared", store, cfg, breaker.WithClock(clock.Now))
	b2 := breaker.New("shared", store, cfg, breaker.WithClock(clock.Now))
	ctx := context.Background()

	b1.RecordFailure(ctx)
	b2.RecordFailure(ctx)

	if err := b1.Allow(ctx); !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Errorf("instance 1 Allow = %v, want ErrCircuitOpen", err)
	}
	if err := b2.Allow(ctx); !errors.Is(err, floodgate.ErrCircuitOpen) {
		t.Errorf("instance 2 Allow = %v, want ErrCircuitOpen", err)
	}
}
