// Package wal records every outbound tool call before it happens. An
// entry is appended in requested state before the call and completed
// with the outcome afterwards, so a crash between the two leaves an
// auditable record of calls whose side effects may or may not exist.
package wal

import (
	"encoding/json"
	"time"

	"github.com/xraph/floodgate/id"
)

// Status is the lifecycle state of a WAL entry.
type Status string

const (
	// StatusRequested marks an entry written before the tool call ran.
	StatusRequested Status = "requested"
	// StatusSucceeded marks an entry whose call completed successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks an entry whose call failed terminally.
	StatusFailed Status = "failed"
)

// CanTransition reports whether an entry may move from one status to
// another. Entries only move forward: requested to a terminal status.
func CanTransition(from, to Status) bool {
	return from == StatusRequested && (to == StatusSucceeded || to == StatusFailed)
}

// Entry is one recorded tool invocation.
type Entry struct {
	ID          id.EntryID      `json:"id"`
	TenantID    string          `json:"tenant_id,omitempty"`
	SagaID      id.SagaID       `json:"saga_id,omitempty"`
	Tool        string          `json:"tool"`
	Operation   string          `json:"operation"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewEntry builds a requested entry for a tool call that is about to run.
func NewEntry(tenantID, tool, operation string, params json.RawMessage) *Entry {
	return &Entry{
		ID:          id.NewEntryID(),
		TenantID:    tenantID,
		Tool:        tool,
		Operation:   operation,
		Parameters:  params,
		Status:      StatusRequested,
		RequestedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the entry has reached a final status.
func (e *Entry) Terminal() bool {
	return e.Status == StatusSucceeded || e.Status == StatusFailed
}
