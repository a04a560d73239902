// Package breaker implements a circuit breaker whose state is shared
// through the statestore, so every gateway instance protecting the same
// downstream tool sees the same CLOSED/OPEN/HALF_OPEN state. Transitions
// are single-writer: each is a compare-and-swap of the serialized record,
// and a losing writer simply re-reads and retries.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/statestore"
)

// State is the breaker's position in the CLOSED → OPEN → HALF_OPEN cycle.
type State string

const (
	// StateClosed lets calls through and counts failures.
	StateClosed State = "closed"
	// StateOpen fails fast without invoking the dependency.
	StateOpen State = "open"
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is how many recorded failures open the circuit.
	FailureThreshold int

	// SuccessThreshold is how many half-open probe successes close it.
	SuccessThreshold int

	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 1,
		OpenTimeout:      30 * time.Second,
	}
}

// Emitter is notified when the breaker changes state.
// The ext registry satisfies this interface.
type Emitter interface {
	EmitBreakerStateChanged(ctx context.Context, tool string, from, to State)
}

// record is the serialized shared state for one breaker.
type record struct {
	State       State `json:"state"`
	Failures    int   `json:"failures"`
	Successes   int   `json:"successes"`
	Probes      int   `json:"probes"`
	LastFailure int64 `json:"last_failure_ms"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithEmitter sets the state-change emitter.
func WithEmitter(e Emitter) Option {
	return func(b *Breaker) { b.emitter = e }
}

// WithClock overrides the breaker's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker guards one downstream tool. Safe for concurrent use across
// goroutines and processes.
type Breaker struct {
	tool    string
	store   statestore.Store
	cfg     Config
	logger  *slog.Logger
	emitter Emitter

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Breaker for the named tool.
func New(tool string, store statestore.Store, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		tool:   tool,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// maxCASRetries bounds optimistic-concurrency retries before giving up.
const maxCASRetries = 8

func stateKey(tool string) string { return "floodgate:cb:" + tool }

// Allow reports whether a call may proceed. In the open state it returns
// floodgate.ErrCircuitOpen without touching the dependency; in half-open
// it admits up to HalfOpenMaxCalls probes.
func (b *Breaker) Allow(ctx context.Context) error {
	for range maxCASRetries {
		raw, rec, err := b.load(ctx)
		if err != nil {
			return err
		}

		switch rec.State {
		case StateClosed:
			return nil

		case StateOpen:
			if b.now().UnixMilli()-rec.LastFailure < b.cfg.OpenTimeout.Milliseconds() {
				return fmt.Errorf("%w: tool %q", floodgate.ErrCircuitOpen, b.tool)
			}
			next := record{State: StateHalfOpen, Probes: 1, LastFailure: rec.LastFailure}
			ok, swapErr := b.swap(ctx, raw, next)
			if swapErr != nil {
				return swapErr
			}
			if ok {
				b.transitioned(ctx, StateOpen, StateHalfOpen)
				return nil
			}

		case StateHalfOpen:
			if rec.Probes >= b.cfg.HalfOpenMaxCalls {
				return fmt.Errorf("%w: tool %q (half-open probe limit)", floodgate.ErrCircuitOpen, b.tool)
			}
			next := rec
			next.Probes++
			ok, swapErr := b.swap(ctx, raw, next)
			if swapErr != nil {
				return swapErr
			}
			if ok {
				return nil
			}
		}
	}
	return fmt.Errorf("breaker %q: allow: contention limit reached", b.tool)
}

// RecordSuccess reports a successful call. Closes the circuit once
// SuccessThreshold half-open probes have succeeded.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	for range maxCASRetries {
		raw, rec, err := b.load(ctx)
		if err != nil {
			b.logger.Error("breaker: record success", slog.String("tool", b.tool), slog.String("error", err.Error()))
			return
		}

		next := rec
		switch rec.State {
		case StateClosed:
			if rec.Failures == 0 {
				return
			}
			next.Failures = 0

		case StateHalfOpen:
			next.Successes++
			if next.Probes > 0 {
				next.Probes--
			}
			if next.Successes >= b.cfg.SuccessThreshold {
				next = record{State: StateClosed}
			}

		case StateOpen:
			// A stale success from before the trip changes nothing.
			return
		}

		ok, swapErr := b.swap(ctx, raw, next)
		if swapErr != nil {
			b.logger.Error("breaker: record success", slog.String("tool", b.tool), slog.String("error", swapErr.Error()))
			return
		}
		if ok {
			if rec.State == StateHalfOpen && next.State == StateClosed {
				b.transitioned(ctx, StateHalfOpen, StateClosed)
			}
			return
		}
	}
}

// RecordFailure reports a failed call. Opens the circuit at
// FailureThreshold; any half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure(ctx context.Context) {
	for range maxCASRetries {
		raw, rec, err := b.load(ctx)
		if err != nil {
			b.logger.Error("breaker: record failure", slog.String("tool", b.tool), slog.String("error", err.Error()))
			return
		}

		next := rec
		nowMS := b.now().UnixMilli()
		switch rec.State {
		case StateClosed:
			next.Failures++
			next.LastFailure = nowMS
			if next.Failures >= b.cfg.FailureThreshold {
				next = record{State: StateOpen, LastFailure: nowMS}
			}

		case StateHalfOpen:
			next = record{State: StateOpen, LastFailure: nowMS}

		case StateOpen:
			next.LastFailure = nowMS
		}

		ok, swapErr := b.swap(ctx, raw, next)
		if swapErr != nil {
			b.logger.Error("breaker: record failure", slog.String("tool", b.tool), slog.String("error", swapErr.Error()))
			return
		}
		if ok {
			if rec.State != StateOpen && next.State == StateOpen {
				b.transitioned(ctx, rec.State, StateOpen)
			}
			return
		}
	}
}

// CurrentState returns the breaker's state for observability.
func (b *Breaker) CurrentState(ctx context.Context) (State, error) {
	_, rec, err := b.load(ctx)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// load reads the raw record bytes and the decoded record, initializing a
// closed record if none exists.
func (b *Breaker) load(ctx context.Context) ([]byte, record, error) {
	raw, found, err := b.store.Get(ctx, stateKey(b.tool))
	if err != nil {
		return nil, record{}, fmt.Errorf("breaker %q: load: %w", b.tool, err)
	}
	if !found {
		initial := record{State: StateClosed}
		data, _ := json.Marshal(initial)
		if _, err := b.store.SetNX(ctx, stateKey(b.tool), data, 0); err != nil {
			return nil, record{}, fmt.Errorf("breaker %q: init: %w", b.tool, err)
		}
		// Re-read: another instance may have won the init race.
		raw, _, err = b.store.Get(ctx, stateKey(b.tool))
		if err != nil {
			return nil, record{}, fmt.Errorf("breaker %q: load: %w", b.tool, err)
		}
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, record{}, fmt.Errorf("breaker %q: decode state: %w", b.tool, err)
	}
	return raw, rec, nil
}

// swap CASes the record from its previously-read bytes to next.
func (b *Breaker) swap(ctx context.Context, prev []byte, next record) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("breaker %q: encode state: %w", b.tool, err)
	}
	ok, err := b.store.CompareAndSwap(ctx, stateKey(b.tool), prev, data, 0)
	if err != nil {
		return false, fmt.Errorf("breaker %q: swap state: %w", b.tool, err)
	}
	return ok, nil
}

func (b *Breaker) transitioned(ctx context.Context, from, to State) {
	b.logger.Info("breaker state changed",
		slog.String("tool", b.tool),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if b.emitter != nil {
		b.emitter.EmitBreakerStateChanged(ctx, b.tool, from, to)
	}
}
