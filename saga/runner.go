package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/scope"
)

// Runner supervises saga executions launched in the background. Each
// execution gets a cancellable context tracked by saga ID, so an
// operator can cancel a running saga and shutdown can drain cleanly.
type Runner struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu      sync.Mutex
	active  map[id.SagaID]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewRunner creates a Runner over an Orchestrator.
func NewRunner(orch *Orchestrator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:   orch,
		logger: logger,
		active: make(map[id.SagaID]context.CancelFunc),
	}
}

// Start launches a saga in the background and returns its ID. The
// execution runs on a context detached from ctx (only tenant scope is
// carried over) so the caller returning does not abort the saga.
func (r *Runner) Start(ctx context.Context, def Definition, tenantID string) (id.SagaID, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return id.SagaID{}, floodgate.ErrStoreClosed
	}

	runCtx, cancel := context.WithCancel(scope.WithTenant(context.WithoutCancel(ctx), tenantID))
	exec := NewExecution(def, tenantID)
	r.active[exec.ID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, exec.ID)
			r.mu.Unlock()
			cancel()
		}()
		if _, err := r.orch.run(runCtx, exec, def); err != nil {
			r.logger.Warn("saga finished with error",
				"saga_id", exec.ID,
				"name", def.Name,
				"error", err)
		}
	}()

	return exec.ID, nil
}

// Cancel stops a running saga. The orchestrator observes the
// cancellation between steps, or mid-step when the step honors its
// context, and compensates completed steps. Returns
// floodgate.ErrSagaNotFound when no running saga has the given ID.
func (r *Runner) Cancel(sagaID id.SagaID) error {
	r.mu.Lock()
	cancel, ok := r.active[sagaID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s not running", floodgate.ErrSagaNotFound, sagaID)
	}
	cancel()
	return nil
}

// Active returns the number of sagas currently running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Stop waits for running sagas to finish. If ctx ends first, remaining
// sagas are cancelled, which triggers their compensation, and Stop waits
// for that to complete.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("saga runner drained")
	case <-ctx.Done():
		r.logger.Warn("saga runner shutdown timed out, cancelling active sagas")
		r.mu.Lock()
		for _, cancel := range r.active {
			cancel()
		}
		r.mu.Unlock()
		r.wg.Wait()
	}
	return nil
}
