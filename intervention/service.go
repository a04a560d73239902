package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/saga"
)

// Emitter is notified when an entry lands in the queue. The ext
// registry satisfies this interface.
type Emitter interface {
	EmitInterventionQueued(ctx context.Context, entry *Entry)
}

// Service provides operator-facing operations over the intervention
// queue. It implements saga.Escalator so the orchestrator can push
// sagas whose compensation exhausted its retries.
type Service struct {
	store     Store
	sagaStore saga.Store
	emitter   Emitter
	logger    *slog.Logger
}

// NewService creates an intervention service.
func NewService(store Store, sagaStore saga.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sagaStore: sagaStore, logger: logger}
}

// SetEmitter wires the lifecycle emitter. Called at engine assembly
// time, before the service receives traffic.
func (s *Service) SetEmitter(e Emitter) { s.emitter = e }

// Escalate queues a saga whose compensation failed terminally.
func (s *Service) Escalate(ctx context.Context, exec *saga.Execution, step *saga.Step, cause error) error {
	entry := &Entry{
		ID:       id.NewInterventionID(),
		SagaID:   exec.ID,
		SagaName: exec.Name,
		TenantID: exec.TenantID,
		StepName: step.Name,
		Error:    cause.Error(),
		Attempts: step.Attempts,
		QueuedAt: time.Now().UTC(),
	}
	if err := s.store.PushIntervention(ctx, entry); err != nil {
		return fmt.Errorf("push intervention: %w", err)
	}
	s.logger.Warn("saga escalated for manual intervention",
		"intervention_id", entry.ID,
		"saga_id", exec.ID,
		"step", step.Name,
		"error", cause)
	if s.emitter != nil {
		s.emitter.EmitInterventionQueued(ctx, entry)
	}
	return nil
}

// Retry re-drives the failed compensation for an entry's saga. The undo
// function is called once per step with that step's name and original
// result: first for the escalated step, then for every still-completed
// earlier step in reverse order, finishing the walk the orchestrator
// abandoned when it queued this entry. The saga is marked compensated
// and the entry resolved only when every one of those steps is undone;
// if a later undo fails, the saga stays failed and a fresh entry is
// queued for the step that blocked it.
func (s *Service) Retry(ctx context.Context, entryID id.InterventionID, undo func(ctx context.Context, stepName string, result json.RawMessage) error) error {
	entry, err := s.store.GetIntervention(ctx, entryID)
	if err != nil {
		return err
	}
	if !entry.Open() {
		return fmt.Errorf("%w: intervention %s already resolved", floodgate.ErrInvalidState, entryID)
	}

	exec, err := s.sagaStore.GetSaga(ctx, entry.SagaID)
	if err != nil {
		return err
	}

	escalated := -1
	for i, st := range exec.Steps {
		if st.Name == entry.StepName {
			escalated = i
			break
		}
	}
	if escalated < 0 {
		return fmt.Errorf("%w: step %q not found in saga %s", floodgate.ErrSagaNotFound, entry.StepName, entry.SagaID)
	}

	for i := escalated; i >= 0; i-- {
		step := exec.Steps[i]
		if i != escalated && step.Status != saga.StepCompleted {
			continue
		}

		if undoErr := undo(ctx, step.Name, step.Result); undoErr != nil {
			step.Status = saga.StepFailed
			step.Error = undoErr.Error()
			exec.Status = saga.StatusFailed
			exec.Touch()
			if uerr := s.sagaStore.UpdateSaga(ctx, exec); uerr != nil {
				s.logger.Error("saga update after retry failure",
					"saga_id", exec.ID, "error", uerr)
			}
			if i != escalated {
				// The escalated step itself is undone; the queue entry
				// moves to the step that blocked this retry.
				note := fmt.Sprintf("compensation blocked at step %q", step.Name)
				if resErr := s.store.ResolveIntervention(ctx, entryID, ResolutionRetried, note); resErr != nil {
					s.logger.Error("resolve intervention failed",
						"intervention_id", entryID, "error", resErr)
				}
				if escErr := s.Escalate(ctx, exec, step, undoErr); escErr != nil {
					s.logger.Error("re-escalation failed",
						"saga_id", exec.ID, "step", step.Name, "error", escErr)
				}
			}
			return fmt.Errorf("compensation retry: step %q: %w", step.Name, undoErr)
		}

		step.Status = saga.StepCompensated
		step.Error = ""
	}

	exec.Status = saga.StatusCompensated
	exec.Touch()
	if err := s.sagaStore.UpdateSaga(ctx, exec); err != nil {
		return err
	}

	return s.store.ResolveIntervention(ctx, entryID, ResolutionRetried, "")
}

// Resolve closes an entry without re-driving compensation, recording an
// operator note.
func (s *Service) Resolve(ctx context.Context, entryID id.InterventionID, note string) error {
	entry, err := s.store.GetIntervention(ctx, entryID)
	if err != nil {
		return err
	}
	if !entry.Open() {
		return fmt.Errorf("%w: intervention %s already resolved", floodgate.ErrInvalidState, entryID)
	}
	return s.store.ResolveIntervention(ctx, entryID, ResolutionManual, note)
}

// List returns queue entries.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListInterventions(ctx, opts)
}

// Pending returns the number of open entries.
func (s *Service) Pending(ctx context.Context) (int64, error) {
	return s.store.CountInterventions(ctx)
}
