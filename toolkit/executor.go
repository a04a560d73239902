package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/bulkhead"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/idempotency"
	"github.com/xraph/floodgate/middleware"
	"github.com/xraph/floodgate/retry"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/scope"
	"github.com/xraph/floodgate/statestore"
	"github.com/xraph/floodgate/wal"
)

// CallRequest describes one tool invocation.
type CallRequest struct {
	// Tool is the registered adapter name.
	Tool string
	// Operation is the operation within the tool.
	Operation string
	// TenantID is the calling tenant. Taken from the context scope when
	// empty.
	TenantID string
	// Parameters is the call's input document.
	Parameters json.RawMessage
	// IdempotencyKey overrides the derived key. Ignored for tools not
	// marked idempotent unless set explicitly.
	IdempotencyKey string
}

// Executor runs tool calls through the resilience stack. The order per
// call is: idempotency lookup, WAL requested entry, then per attempt
// breaker admission, bulkhead permit, middleware chain, adapter call.
// The terminal outcome lands in the WAL and, for success, the
// idempotency cache.
type Executor struct {
	states  statestore.Store
	wal     wal.Store
	idem    *idempotency.Cache
	chain   middleware.Middleware
	extra   []middleware.Middleware
	emitter Emitter
	logger  *slog.Logger

	mu    sync.RWMutex
	tools map[string]*tool
}

// Emitter is notified when tool calls settle. The ext registry
// satisfies this interface.
type Emitter interface {
	EmitToolCallCompleted(ctx context.Context, entry *wal.Entry, elapsed time.Duration)
	EmitToolCallFailed(ctx context.Context, entry *wal.Entry, err error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em Emitter) ExecutorOption {
	return func(e *Executor) { e.emitter = em }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithMiddleware appends middleware to the per-attempt chain, outermost
// first, after the built-in scope, recover, and timeout middleware.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.extra = append(e.extra, mws...) }
}

// NewExecutor creates an Executor. The state store backs per-tool
// breakers; the WAL store records calls; the idempotency cache is
// optional and disables deduplication when nil.
func NewExecutor(states statestore.Store, walStore wal.Store, idem *idempotency.Cache, opts ...ExecutorOption) *Executor {
	e := &Executor{
		states: states,
		wal:    walStore,
		idem:   idem,
		logger: slog.Default(),
		tools:  make(map[string]*tool),
	}
	for _, opt := range opts {
		opt(e)
	}

	mws := []middleware.Middleware{
		middleware.Scope(),
		middleware.Recover(e.logger),
		middleware.Timeout(e.logger),
	}
	mws = append(mws, e.extra...)
	e.chain = middleware.Chain(mws...)
	return e
}

// Register adds an adapter with its resilience configuration. A second
// registration under the same name replaces the first.
func (e *Executor) Register(adapter Adapter, cfg ToolConfig) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	t := &tool{
		adapter:  adapter,
		cfg:      cfg,
		breaker:  breaker.New(adapter.Name(), e.states, cfg.Breaker, breaker.WithLogger(e.logger)),
		bulkhead: bulkhead.New(adapter.Name(), cfg.Bulkhead),
		retrier: retry.New(retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Strategy:    cfg.Backoff,
			Retriable: func(err error) bool {
				// An open circuit means stop calling, not try again.
				if errors.Is(err, floodgate.ErrCircuitOpen) {
					return false
				}
				return floodgate.IsRetriable(err)
			},
		}, retry.WithLogger(e.logger)),
	}

	e.mu.Lock()
	e.tools[adapter.Name()] = t
	e.mu.Unlock()
}

// ToolStats returns the breaker state and bulkhead stats for a
// registered tool.
func (e *Executor) ToolStats(ctx context.Context, name string) (breaker.State, bulkhead.Stats, error) {
	t, err := e.lookup(name)
	if err != nil {
		return "", bulkhead.Stats{}, err
	}
	state, err := t.breaker.CurrentState(ctx)
	return state, t.bulkhead.Stats(), err
}

func (e *Executor) lookup(name string) (*tool, error) {
	e.mu.RLock()
	t, ok := e.tools[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", floodgate.ErrAdapterNotFound, name)
	}
	return t, nil
}

// Execute runs a call through the full stack and returns the tool's
// result document.
func (e *Executor) Execute(ctx context.Context, req CallRequest) (json.RawMessage, error) {
	t, err := e.lookup(req.Tool)
	if err != nil {
		return nil, err
	}
	if req.TenantID == "" {
		req.TenantID = scope.TenantFrom(ctx)
	}

	key := req.IdempotencyKey
	if key == "" && t.cfg.Idempotent {
		key, err = idempotency.Key(req.Tool, req.Operation, req.Parameters)
		if err != nil {
			return nil, floodgate.WithKind(floodgate.KindValidation, err)
		}
	}
	if key == "" || e.idem == nil {
		return e.executeOnce(ctx, t, req)
	}

	result, cached, err := e.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		return e.executeOnce(ctx, t, req)
	})
	if cached {
		e.logger.Debug("tool call served from idempotency cache",
			"tool", req.Tool,
			"operation", req.Operation,
			"key", key)
	}
	return result, err
}

// executeOnce records the call in the WAL and drives the retry loop.
func (e *Executor) executeOnce(ctx context.Context, t *tool, req CallRequest) (json.RawMessage, error) {
	entry := wal.NewEntry(req.TenantID, req.Tool, req.Operation, req.Parameters)
	if sagaID, ok := saga.IDFromContext(ctx); ok {
		entry.SagaID = sagaID
	}
	if err := e.wal.AppendWAL(ctx, entry); err != nil {
		return nil, fmt.Errorf("append wal: %w", err)
	}

	start := time.Now()
	var result json.RawMessage
	err := t.retrier.Do(ctx, req.Tool+"."+req.Operation, func(ctx context.Context, attempt int) error {
		if err := t.breaker.Allow(ctx); err != nil {
			return err
		}
		if err := t.bulkhead.Acquire(ctx); err != nil {
			t.breaker.RecordFailure(ctx)
			return err
		}
		defer t.bulkhead.Release()

		call := &middleware.Call{
			EntryID:    entry.ID,
			Tool:       req.Tool,
			Operation:  req.Operation,
			TenantID:   req.TenantID,
			Parameters: req.Parameters,
			Timeout:    t.cfg.Timeout,
			Attempt:    attempt,
		}
		out, err := e.chain(ctx, call, func(ctx context.Context) (json.RawMessage, error) {
			return t.adapter.Execute(ctx, req.Operation, req.Parameters)
		})
		if err != nil {
			t.breaker.RecordFailure(ctx)
			return err
		}
		t.breaker.RecordSuccess(ctx)
		result = out
		return nil
	})

	e.complete(ctx, entry.ID, result, err)
	if e.emitter != nil {
		if err != nil {
			e.emitter.EmitToolCallFailed(ctx, entry, err)
		} else {
			e.emitter.EmitToolCallCompleted(ctx, entry, time.Since(start))
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// complete records the terminal WAL status for a call.
func (e *Executor) complete(ctx context.Context, entryID id.EntryID, result json.RawMessage, callErr error) {
	status := wal.StatusSucceeded
	errMsg := ""
	if callErr != nil {
		status = wal.StatusFailed
		errMsg = callErr.Error()
	}
	if err := e.wal.CompleteWAL(ctx, entryID, status, result, errMsg); err != nil {
		e.logger.Error("wal completion failed",
			"entry_id", entryID,
			"status", status,
			"error", err)
	}
}

// Compensate undoes a recorded tool result. Saga compensation retries
// are handled by the orchestrator, so this is a single direct call.
func (e *Executor) Compensate(ctx context.Context, toolName, operation string, result json.RawMessage) error {
	t, err := e.lookup(toolName)
	if err != nil {
		return err
	}
	return t.adapter.Compensate(ctx, operation, result)
}
