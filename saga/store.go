package saga

import (
	"context"
	"time"

	"github.com/xraph/floodgate/id"
)

// ListOpts controls pagination and filtering for saga list queries.
type ListOpts struct {
	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
	// Status filters by execution status. Empty means all statuses.
	Status Status
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// Store defines the persistence contract for saga executions. Steps are
// stored embedded in the execution record.
type Store interface {
	// CreateSaga persists a new execution.
	CreateSaga(ctx context.Context, exec *Execution) error

	// GetSaga retrieves an execution by ID.
	GetSaga(ctx context.Context, sagaID id.SagaID) (*Execution, error)

	// UpdateSaga persists changes to an existing execution, including
	// its steps.
	UpdateSaga(ctx context.Context, exec *Execution) error

	// ListSagas returns executions matching the given options, ordered
	// by StartedAt descending.
	ListSagas(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// PurgeSagas removes terminal executions with StartedAt before the
	// given time. Returns the number removed.
	PurgeSagas(ctx context.Context, before time.Time) (int64, error)
}
