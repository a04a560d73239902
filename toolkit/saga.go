package toolkit

import (
	"context"
	"encoding/json"

	"github.com/xraph/floodgate/saga"
)

// Step builds a saga step that executes a tool call through the
// executor's full resilience stack and compensates through the tool's
// adapter. The step result stored on the saga is the tool's result
// document, so compensation receives what the forward call produced.
func (e *Executor) Step(name string, req CallRequest) saga.StepDef {
	return saga.StepDef{
		Name: name,
		Execute: func(ctx context.Context) (json.RawMessage, error) {
			return e.Execute(ctx, req)
		},
		Compensate: func(ctx context.Context, result json.RawMessage) error {
			return e.Compensate(ctx, req.Tool, req.Operation, result)
		},
	}
}

// RetryCompensation returns an undo function suitable for
// intervention.Service.Retry, re-driving a failed compensation for the
// given tool operation.
func (e *Executor) RetryCompensation(toolName, operation string) func(ctx context.Context, result json.RawMessage) error {
	return func(ctx context.Context, result json.RawMessage) error {
		return e.Compensate(ctx, toolName, operation, result)
	}
}
