// Package saga coordinates multi-step operations whose steps have side
// effects that must be undone when a later step fails. Steps run
// sequentially; on the first failure the completed steps are compensated
// in reverse order. Compensation failures are retried a bounded number of
// times and then escalated for manual intervention.
package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
)

// Status is the lifecycle state of a saga execution.
type Status string

const (
	// StatusRunning means steps are currently executing.
	StatusRunning Status = "running"
	// StatusCompleted means every step finished successfully.
	StatusCompleted Status = "completed"
	// StatusCompensating means a step failed and completed steps are
	// being undone in reverse order.
	StatusCompensating Status = "compensating"
	// StatusCompensated means compensation finished and all completed
	// steps were undone.
	StatusCompensated Status = "compensated"
	// StatusFailed means compensation itself failed and the saga needs
	// manual intervention.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// StepStatus is the lifecycle state of one step within a saga.
type StepStatus string

const (
	// StepPending means the step has not started.
	StepPending StepStatus = "pending"
	// StepExecuting means the step's action is running.
	StepExecuting StepStatus = "executing"
	// StepCompleted means the step's action succeeded.
	StepCompleted StepStatus = "completed"
	// StepCompensating means the step's undo action is running.
	StepCompensating StepStatus = "compensating"
	// StepCompensated means the step's undo action succeeded.
	StepCompensated StepStatus = "compensated"
	// StepFailed means the step's action or undo action failed.
	StepFailed StepStatus = "failed"
)

// Step is the persisted record of one step in an execution.
type Step struct {
	ID          id.StepID       `json:"id"`
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Execution is a single run of a saga definition.
type Execution struct {
	floodgate.Entity

	ID           id.SagaID  `json:"id"`
	Name         string     `json:"name"`
	TenantID     string     `json:"tenant_id,omitempty"`
	Status       Status     `json:"status"`
	Steps        []*Step    `json:"steps"`
	Error        string     `json:"error,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StepDef declares one step of a saga: a forward action and an optional
// undo action. Compensate receives the forward action's result so it can
// reference what was created.
type StepDef struct {
	Name       string
	Execute    func(ctx context.Context) (json.RawMessage, error)
	Compensate func(ctx context.Context, result json.RawMessage) error
}

// Definition is a named sequence of steps.
type Definition struct {
	Name  string
	Steps []StepDef
}

// NewExecution builds a running execution for a definition with every
// step pending.
func NewExecution(def Definition, tenantID string) *Execution {
	steps := make([]*Step, len(def.Steps))
	for i, sd := range def.Steps {
		steps[i] = &Step{
			ID:     id.NewStepID(),
			Name:   sd.Name,
			Status: StepPending,
		}
	}
	return &Execution{
		Entity:    floodgate.NewEntity(),
		ID:        id.NewSagaID(),
		Name:      def.Name,
		TenantID:  tenantID,
		Status:    StatusRunning,
		Steps:     steps,
		StartedAt: time.Now().UTC(),
	}
}
