package saga_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/floodgate/backoff"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/saga"
)

// memStore is a minimal in-memory saga store for orchestrator tests.
type memStore struct {
	mu    sync.Mutex
	execs map[id.SagaID]*saga.Execution
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[id.SagaID]*saga.Execution)}
}

func (m *memStore) CreateSaga(_ context.Context, e *saga.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[e.ID] = e
	return nil
}

func (m *memStore) GetSaga(_ context.Context, sagaID id.SagaID) (*saga.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[sagaID]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (m *memStore) UpdateSaga(_ context.Context, e *saga.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[e.ID] = e
	return nil
}

func (m *memStore) ListSagas(_ context.Context, _ saga.ListOpts) ([]*saga.Execution, error) {
	return nil, nil
}

func (m *memStore) PurgeSagas(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type escalation struct {
	exec *saga.Execution
	step *saga.Step
}

type recordingEscalator struct {
	mu    sync.Mutex
	calls []escalation
}

func (r *recordingEscalator) Escalate(_ context.Context, e *saga.Execution, s *saga.Step, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, escalation{exec: e, step: s})
	return nil
}

func okStep(name string, order *[]string) saga.StepDef {
	return saga.StepDef{
		Name: name,
		Execute: func(_ context.Context) (json.RawMessage, error) {
			*order = append(*order, name)
			return json.RawMessage(`{"ok":true}`), nil
		},
		Compensate: func(_ context.Context, _ json.RawMessage) error {
			*order = append(*order, "undo-"+name)
			return nil
		},
	}
}

func TestRunCompletesAllSteps(t *testing.T) {
	store := newMemStore()
	orch := saga.NewOrchestrator(store)

	var order []string
	def := saga.Definition{
		Name:  "provision",
		Steps: []saga.StepDef{okStep("reserve", &order), okStep("charge", &order)},
	}

	exec, err := orch.Run(context.Background(), def, "acme")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != saga.StatusCompleted {
		t.Fatalf("status = %q, want %q", exec.Status, saga.StatusCompleted)
	}
	if len(order) != 2 || order[0] != "reserve" || order[1] != "charge" {
		t.Fatalf("order = %v", order)
	}
	for _, s := range exec.Steps {
		if s.Status != saga.StepCompleted {
			t.Errorf("step %s status = %q, want completed", s.Name, s.Status)
		}
	}
}

func TestFailureCompensatesInReverse(t *testing.T) {
	store := newMemStore()
	orch := saga.NewOrchestrator(store)

	var order []string
	def := saga.Definition{
		Name: "order",
		Steps: []saga.StepDef{
			okStep("reserve-inventory", &order),
			okStep("charge-payment", &order),
			{
				Name: "ship",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return nil, errors.New("shipping unavailable")
				},
				Compensate: func(_ context.Context, _ json.RawMessage) error {
					order = append(order, "undo-ship")
					return nil
				},
			},
		},
	}

	exec, err := orch.Run(context.Background(), def, "acme")
	if err == nil {
		t.Fatal("expected the step failure to surface")
	}
	if exec.Status != saga.StatusCompensated {
		t.Fatalf("status = %q, want %q", exec.Status, saga.StatusCompensated)
	}

	// Failed step's compensation never runs. Completed steps undo in
	// reverse order.
	want := []string{"reserve-inventory", "charge-payment", "undo-charge-payment", "undo-reserve-inventory"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestCompensationRetriesThenEscalates(t *testing.T) {
	store := newMemStore()
	esc := &recordingEscalator{}
	orch := saga.NewOrchestrator(store,
		saga.WithEscalator(esc),
		saga.WithCompensationBackoff(backoff.NewFixed(0)),
		saga.WithCompensationAttempts(3),
	)

	compCalls := 0
	def := saga.Definition{
		Name: "order",
		Steps: []saga.StepDef{
			{
				Name: "reserve",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return json.RawMessage(`{}`), nil
				},
				Compensate: func(_ context.Context, _ json.RawMessage) error {
					compCalls++
					return errors.New("undo failed")
				},
			},
			{
				Name: "charge",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return nil, errors.New("card declined")
				},
			},
		},
	}

	exec, err := orch.Run(context.Background(), def, "acme")
	if err == nil {
		t.Fatal("expected error")
	}
	if exec.Status != saga.StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, saga.StatusFailed)
	}
	if compCalls != 3 {
		t.Fatalf("compensation attempts = %d, want 3", compCalls)
	}
	if len(esc.calls) != 1 {
		t.Fatalf("escalations = %d, want 1", len(esc.calls))
	}
	if esc.calls[0].step.Name != "reserve" {
		t.Fatalf("escalated step = %q, want reserve", esc.calls[0].step.Name)
	}
}

func TestStepWithoutCompensationIsSkipped(t *testing.T) {
	store := newMemStore()
	orch := saga.NewOrchestrator(store)

	var order []string
	def := saga.Definition{
		Name: "mixed",
		Steps: []saga.StepDef{
			{
				Name: "log-event",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return nil, nil
				},
			},
			okStep("reserve", &order),
			{
				Name: "boom",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return nil, errors.New("boom")
				},
			},
		},
	}

	exec, _ := orch.Run(context.Background(), def, "acme")
	if exec.Status != saga.StatusCompensated {
		t.Fatalf("status = %q, want compensated", exec.Status)
	}
	if exec.Steps[0].Status != saga.StepCompensated {
		t.Fatalf("no-op step status = %q, want compensated", exec.Steps[0].Status)
	}
}

func TestRunnerCancelTriggersCompensation(t *testing.T) {
	store := newMemStore()
	orch := saga.NewOrchestrator(store)
	runner := saga.NewRunner(orch, nil)

	firstDone := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var undone bool

	def := saga.Definition{
		Name: "long",
		Steps: []saga.StepDef{
			{
				Name: "first",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					close(firstDone)
					<-release
					return nil, nil
				},
				Compensate: func(_ context.Context, _ json.RawMessage) error {
					mu.Lock()
					undone = true
					mu.Unlock()
					return nil
				},
			},
			{
				Name: "second",
				Execute: func(_ context.Context) (json.RawMessage, error) {
					return nil, nil
				},
			},
		},
	}

	sagaID, err := runner.Start(context.Background(), def, "acme")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-firstDone
	if err := runner.Cancel(sagaID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	exec, err := store.GetSaga(context.Background(), sagaID)
	if err != nil {
		t.Fatalf("GetSaga: %v", err)
	}
	if exec.Status != saga.StatusCompensated {
		t.Fatalf("status = %q, want compensated", exec.Status)
	}
	if exec.CancelReason != saga.CancelReasonManual {
		t.Fatalf("cancel reason = %q, want %q", exec.CancelReason, saga.CancelReasonManual)
	}
	mu.Lock()
	defer mu.Unlock()
	if !undone {
		t.Fatal("first step was not compensated after cancel")
	}
}

func TestCancelMidStepRecordsReason(t *testing.T) {
	store := newMemStore()
	orch := saga.NewOrchestrator(store)
	runner := saga.NewRunner(orch, nil)

	var order []string
	entered := make(chan struct{})
	def := saga.Definition{
		Name: "long",
		Steps: []saga.StepDef{
			okStep("first", &order),
			{
				Name: "second",
				Execute: func(ctx context.Context) (json.RawMessage, error) {
					close(entered)
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
		},
	}

	sagaID, err := runner.Start(context.Background(), def, "acme")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	if err := runner.Cancel(sagaID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	exec, err := store.GetSaga(context.Background(), sagaID)
	if err != nil {
		t.Fatalf("GetSaga: %v", err)
	}
	if exec.Status != saga.StatusCompensated {
		t.Fatalf("status = %q, want compensated", exec.Status)
	}
	if exec.CancelReason != saga.CancelReasonManual {
		t.Fatalf("cancel reason = %q, want %q", exec.CancelReason, saga.CancelReasonManual)
	}
	if len(order) != 2 || order[1] != "undo-first" {
		t.Fatalf("order = %v, want the completed step undone", order)
	}
}

func TestCancelUnknownSaga(t *testing.T) {
	runner := saga.NewRunner(saga.NewOrchestrator(newMemStore()), nil)
	if err := runner.Cancel(id.NewSagaID()); err == nil {
		t.Fatal("expected error for unknown saga")
	}
}
