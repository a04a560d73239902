// Package memory provides a fully in-memory store.Store implementation.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ wal.Store          = (*Store)(nil)
	_ saga.Store         = (*Store)(nil)
	_ intervention.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	entries       map[string]*wal.Entry
	sagas         map[string]*saga.Execution
	interventions map[string]*intervention.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		entries:       make(map[string]*wal.Entry),
		sagas:         make(map[string]*saga.Execution),
		interventions: make(map[string]*intervention.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// WAL Store
// ──────────────────────────────────────────────────

// AppendWAL persists a new entry in requested status.
func (m *Store) AppendWAL(_ context.Context, entry *wal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.ID.String()] = &cp
	return nil
}

// CompleteWAL moves an entry to a terminal status.
func (m *Store) CompleteWAL(_ context.Context, entryID id.EntryID, status wal.Status, result json.RawMessage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[entryID.String()]
	if !ok {
		return floodgate.ErrEntryNotFound
	}
	if !wal.CanTransition(entry.Status, status) {
		return floodgate.ErrInvalidState
	}
	now := time.Now().UTC()
	entry.Status = status
	entry.Result = result
	entry.Error = errMsg
	entry.CompletedAt = &now
	return nil
}

// GetWAL retrieves an entry by ID.
func (m *Store) GetWAL(_ context.Context, entryID id.EntryID) (*wal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[entryID.String()]
	if !ok {
		return nil, floodgate.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

// ListWAL returns entries matching the given options, newest first.
func (m *Store) ListWAL(_ context.Context, opts wal.ListOpts) ([]*wal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*wal.Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if opts.Tool != "" && entry.Tool != opts.Tool {
			continue
		}
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].RequestedAt.After(result[k].RequestedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListPendingWAL returns requested entries older than the threshold.
func (m *Store) ListPendingWAL(_ context.Context, olderThan time.Time) ([]*wal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*wal.Entry
	for _, entry := range m.entries {
		if entry.Status != wal.StatusRequested {
			continue
		}
		if !entry.RequestedAt.Before(olderThan) {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].RequestedAt.Before(result[k].RequestedAt)
	})
	return result, nil
}

// PruneWAL removes terminal entries with RequestedAt before the given time.
func (m *Store) PruneWAL(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, entry := range m.entries {
		if entry.Terminal() && entry.RequestedAt.Before(before) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// Saga Store
// ──────────────────────────────────────────────────

// CreateSaga persists a new execution.
func (m *Store) CreateSaga(_ context.Context, exec *saga.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sagas[exec.ID.String()] = copyExecution(exec)
	return nil
}

// GetSaga retrieves an execution by ID.
func (m *Store) GetSaga(_ context.Context, sagaID id.SagaID) (*saga.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.sagas[sagaID.String()]
	if !ok {
		return nil, floodgate.ErrSagaNotFound
	}
	return copyExecution(exec), nil
}

// UpdateSaga persists changes to an existing execution.
func (m *Store) UpdateSaga(_ context.Context, exec *saga.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := exec.ID.String()
	if _, ok := m.sagas[key]; !ok {
		return floodgate.ErrSagaNotFound
	}
	m.sagas[key] = copyExecution(exec)
	return nil
}

// ListSagas returns executions matching the given options, newest first.
func (m *Store) ListSagas(_ context.Context, opts saga.ListOpts) ([]*saga.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*saga.Execution, 0, len(m.sagas))
	for _, exec := range m.sagas {
		if opts.Status != "" && exec.Status != opts.Status {
			continue
		}
		if opts.TenantID != "" && exec.TenantID != opts.TenantID {
			continue
		}
		result = append(result, copyExecution(exec))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.After(result[k].StartedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeSagas removes terminal executions started before the given time.
func (m *Store) PurgeSagas(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, exec := range m.sagas {
		if exec.Status.Terminal() && exec.StartedAt.Before(before) {
			delete(m.sagas, key)
			removed++
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// Intervention Store
// ──────────────────────────────────────────────────

// PushIntervention adds an entry to the queue.
func (m *Store) PushIntervention(_ context.Context, entry *intervention.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.interventions[entry.ID.String()] = &cp
	return nil
}

// GetIntervention retrieves an entry by ID.
func (m *Store) GetIntervention(_ context.Context, entryID id.InterventionID) (*intervention.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.interventions[entryID.String()]
	if !ok {
		return nil, floodgate.ErrInterventionNotFound
	}
	cp := *entry
	return &cp, nil
}

// ListInterventions returns entries matching the given options, newest first.
func (m *Store) ListInterventions(_ context.Context, opts intervention.ListOpts) ([]*intervention.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*intervention.Entry, 0, len(m.interventions))
	for _, entry := range m.interventions {
		if !opts.IncludeResolved && !entry.Open() {
			continue
		}
		if opts.TenantID != "" && entry.TenantID != opts.TenantID {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].QueuedAt.After(result[k].QueuedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ResolveIntervention marks an entry closed.
func (m *Store) ResolveIntervention(_ context.Context, entryID id.InterventionID, res intervention.Resolution, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.interventions[entryID.String()]
	if !ok {
		return floodgate.ErrInterventionNotFound
	}
	now := time.Now().UTC()
	entry.Resolution = res
	entry.Note = note
	entry.ResolvedAt = &now
	return nil
}

// CountInterventions returns the number of open entries.
func (m *Store) CountInterventions(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, entry := range m.interventions {
		if entry.Open() {
			n++
		}
	}
	return n, nil
}

// copyExecution deep-copies an execution so callers can mutate steps
// without racing with the store.
func copyExecution(exec *saga.Execution) *saga.Execution {
	cp := *exec
	cp.Steps = make([]*saga.Step, len(exec.Steps))
	for i, step := range exec.Steps {
		s := *step
		cp.Steps[i] = &s
	}
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
