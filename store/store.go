// Package store defines the aggregate persistence interface. Each
// subsystem (wal, saga, intervention) defines its own store interface.
// The composite Store composes them all. Backends: Postgres (via Bun),
// Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	wal.Store
	saga.Store
	intervention.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
