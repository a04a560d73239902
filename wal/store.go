package wal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/floodgate/id"
)

// ListOpts controls pagination and filtering for WAL list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Tool filters by tool name. Empty means all tools.
	Tool string
	// Status filters by entry status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for the write-ahead log.
type Store interface {
	// AppendWAL persists a new entry in requested status.
	AppendWAL(ctx context.Context, entry *Entry) error

	// CompleteWAL moves an entry from requested to the given terminal
	// status, recording the result or error. Returns
	// floodgate.ErrInvalidState when the entry is already terminal.
	CompleteWAL(ctx context.Context, entryID id.EntryID, status Status, result json.RawMessage, errMsg string) error

	// GetWAL retrieves an entry by ID.
	GetWAL(ctx context.Context, entryID id.EntryID) (*Entry, error)

	// ListWAL returns entries matching the given options, ordered by
	// RequestedAt descending.
	ListWAL(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// ListPendingWAL returns requested entries older than the threshold.
	// These are calls that started but never recorded an outcome.
	ListPendingWAL(ctx context.Context, olderThan time.Time) ([]*Entry, error)

	// PruneWAL removes terminal entries with RequestedAt before the given
	// time. Returns the number of entries removed.
	PruneWAL(ctx context.Context, before time.Time) (int64, error)
}
