package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/backoff"
)

// CancelReasonManual is recorded when an operator cancels a running saga.
const CancelReasonManual = "manually cancelled"

// Escalator receives sagas whose compensation could not complete and
// must be resolved by an operator.
type Escalator interface {
	Escalate(ctx context.Context, exec *Execution, step *Step, cause error) error
}

// Emitter is notified of saga lifecycle transitions. The ext registry
// satisfies this interface.
type Emitter interface {
	EmitSagaStarted(ctx context.Context, exec *Execution)
	EmitSagaCompleted(ctx context.Context, exec *Execution, elapsed time.Duration)
	EmitSagaCompensated(ctx context.Context, exec *Execution)
	EmitSagaFailed(ctx context.Context, exec *Execution, err error)
}

// Orchestrator drives saga executions against a Store.
type Orchestrator struct {
	store        Store
	logger       *slog.Logger
	escalator    Escalator
	emitter      Emitter
	compBackoff  backoff.Strategy
	compAttempts int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEscalator sets the sink for sagas whose compensation exhausted
// its retries. Without one, such sagas are only marked failed.
func WithEscalator(e Escalator) Option {
	return func(o *Orchestrator) { o.escalator = e }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithCompensationBackoff sets the delay strategy between compensation
// retries.
func WithCompensationBackoff(s backoff.Strategy) Option {
	return func(o *Orchestrator) { o.compBackoff = s }
}

// WithCompensationAttempts sets how many times a failing compensation is
// tried before escalation.
func WithCompensationAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.compAttempts = n
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		logger:       slog.Default(),
		compBackoff:  backoff.NewExponential(time.Second, 30*time.Second),
		compAttempts: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes a definition to completion and returns the final
// execution record. Steps run sequentially. On the first step failure,
// or when ctx is cancelled between steps, completed steps are
// compensated in reverse order under a context detached from ctx, so
// cancellation cannot strand half-done side effects.
func (o *Orchestrator) Run(ctx context.Context, def Definition, tenantID string) (*Execution, error) {
	return o.run(ctx, NewExecution(def, tenantID), def)
}

// run drives a pre-built execution. The Runner constructs the execution
// itself so the saga ID is known before the goroutine starts.
func (o *Orchestrator) run(ctx context.Context, exec *Execution, def Definition) (*Execution, error) {
	if err := o.store.CreateSaga(ctx, exec); err != nil {
		return nil, fmt.Errorf("create saga: %w", err)
	}
	ctx = ContextWithID(ctx, exec.ID)

	o.logger.Info("saga started",
		"saga_id", exec.ID,
		"name", exec.Name,
		"tenant_id", exec.TenantID,
		"steps", len(exec.Steps))
	if o.emitter != nil {
		o.emitter.EmitSagaStarted(ctx, exec)
	}

	for i, sd := range def.Steps {
		if err := ctx.Err(); err != nil {
			exec.CancelReason = CancelReasonManual
			return o.compensate(exec, def, i, fmt.Errorf("saga cancelled: %w", err))
		}

		step := exec.Steps[i]
		now := time.Now().UTC()
		step.Status = StepExecuting
		step.StartedAt = &now
		o.persist(ctx, exec)

		result, err := sd.Execute(ctx)
		done := time.Now().UTC()
		step.CompletedAt = &done

		if err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			// Cancellation landing mid-step is a cancel, not a step fault.
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				exec.CancelReason = CancelReasonManual
				err = fmt.Errorf("saga cancelled: %w", err)
			}
			o.logger.Warn("saga step failed",
				"saga_id", exec.ID,
				"step", step.Name,
				"error", err)
			return o.compensate(exec, def, i, err)
		}

		step.Status = StepCompleted
		step.Result = result
		o.persist(ctx, exec)
	}

	now := time.Now().UTC()
	exec.Status = StatusCompleted
	exec.CompletedAt = &now
	exec.Touch()
	if err := o.store.UpdateSaga(ctx, exec); err != nil {
		return exec, fmt.Errorf("update saga: %w", err)
	}

	o.logger.Info("saga completed", "saga_id", exec.ID, "name", exec.Name)
	if o.emitter != nil {
		o.emitter.EmitSagaCompleted(ctx, exec, exec.CompletedAt.Sub(exec.StartedAt))
	}
	return exec, nil
}

// compensate undoes the steps before index failedAt, newest first. It
// runs under a fresh background context so caller cancellation does not
// interrupt the undo work.
func (o *Orchestrator) compensate(exec *Execution, def Definition, failedAt int, cause error) (*Execution, error) {
	ctx := ContextWithID(context.Background(), exec.ID)

	exec.Status = StatusCompensating
	exec.Error = cause.Error()
	o.persist(ctx, exec)

	final := StatusCompensated
	for i := failedAt - 1; i >= 0; i-- {
		step := exec.Steps[i]
		if step.Status != StepCompleted {
			continue
		}
		comp := def.Steps[i].Compensate
		if comp == nil {
			step.Status = StepCompensated
			o.persist(ctx, exec)
			continue
		}

		step.Status = StepCompensating
		o.persist(ctx, exec)

		if err := o.compensateStep(ctx, exec, step, comp); err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			final = StatusFailed
			o.persist(ctx, exec)

			if o.escalator != nil {
				if escErr := o.escalator.Escalate(ctx, exec, step, err); escErr != nil {
					o.logger.Error("escalation failed",
						"saga_id", exec.ID,
						"step", step.Name,
						"error", escErr)
				}
			}
			break
		}

		step.Status = StepCompensated
		o.persist(ctx, exec)
	}

	now := time.Now().UTC()
	exec.Status = final
	exec.CompletedAt = &now
	exec.Touch()
	if err := o.store.UpdateSaga(ctx, exec); err != nil {
		o.logger.Error("update saga after compensation failed",
			"saga_id", exec.ID, "error", err)
	}

	o.logger.Info("saga compensation finished",
		"saga_id", exec.ID,
		"status", exec.Status,
		"cause", cause)

	if final == StatusFailed {
		if o.emitter != nil {
			o.emitter.EmitSagaFailed(ctx, exec, cause)
		}
		return exec, fmt.Errorf("saga %s: compensation incomplete after %q: %w", exec.ID, cause, floodgate.ErrInvalidState)
	}
	if o.emitter != nil {
		o.emitter.EmitSagaCompensated(ctx, exec)
	}
	return exec, cause
}

// compensateStep retries a failing compensation with backoff before
// giving up.
func (o *Orchestrator) compensateStep(ctx context.Context, exec *Execution, step *Step, comp func(context.Context, json.RawMessage) error) error {
	var last error
	for attempt := 1; attempt <= o.compAttempts; attempt++ {
		step.Attempts = attempt
		last = comp(ctx, step.Result)
		if last == nil {
			return nil
		}
		o.logger.Warn("compensation attempt failed",
			"saga_id", exec.ID,
			"step", step.Name,
			"attempt", attempt,
			"error", last)
		if attempt < o.compAttempts {
			select {
			case <-time.After(o.compBackoff.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return last
}

// persist best-effort updates the execution record. Orchestration does
// not stop on a transient store write failure mid-saga.
func (o *Orchestrator) persist(ctx context.Context, exec *Execution) {
	exec.Touch()
	if err := o.store.UpdateSaga(ctx, exec); err != nil {
		o.logger.Error("saga update failed", "saga_id", exec.ID, "error", err)
	}
}
