// Package intervention holds sagas whose compensation could not complete
// automatically. Entries stay queued until an operator retries the undo
// work or resolves them by hand.
package intervention

import (
	"context"
	"time"

	"github.com/xraph/floodgate/id"
)

// Resolution records how an operator closed an entry.
type Resolution string

const (
	// ResolutionRetried means the compensation was re-driven and succeeded.
	ResolutionRetried Resolution = "retried"
	// ResolutionManual means the operator fixed the side effects outside
	// the system.
	ResolutionManual Resolution = "manual"
)

// Entry is a saga awaiting operator attention.
type Entry struct {
	ID         id.InterventionID `json:"id"`
	SagaID     id.SagaID         `json:"saga_id"`
	SagaName   string            `json:"saga_name"`
	TenantID   string            `json:"tenant_id,omitempty"`
	StepName   string            `json:"step_name"`
	Error      string            `json:"error"`
	Attempts   int               `json:"attempts"`
	Note       string            `json:"note,omitempty"`
	Resolution Resolution        `json:"resolution,omitempty"`
	QueuedAt   time.Time         `json:"queued_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// Open reports whether the entry still needs attention.
func (e *Entry) Open() bool { return e.ResolvedAt == nil }

// ListOpts controls pagination and filtering for intervention queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// IncludeResolved includes closed entries when true.
	IncludeResolved bool
}

// Store defines the persistence contract for the intervention queue.
type Store interface {
	// PushIntervention adds an entry to the queue.
	PushIntervention(ctx context.Context, entry *Entry) error

	// GetIntervention retrieves an entry by ID.
	GetIntervention(ctx context.Context, entryID id.InterventionID) (*Entry, error)

	// ListInterventions returns entries matching the given options,
	// ordered by QueuedAt descending.
	ListInterventions(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// ResolveIntervention marks an entry closed with a resolution and
	// optional operator note.
	ResolveIntervention(ctx context.Context, entryID id.InterventionID, res Resolution, note string) error

	// CountInterventions returns the number of open entries.
	CountInterventions(ctx context.Context) (int64, error)
}
