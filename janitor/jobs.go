package janitor

import (
	"context"
	"time"

	"github.com/xraph/floodgate/admission"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/sched"
	"github.com/xraph/floodgate/wal"
)

// SweepLeases reclaims admission tokens whose leases expired because the
// holder crashed or stalled.
func SweepLeases(counter *admission.Counter) Func {
	return func(ctx context.Context) (int64, error) {
		n, err := counter.SweepExpired(ctx, time.Now().UTC())
		return int64(n), err
	}
}

// ExpireQueued drops queued requests that waited past the scheduler's
// max age.
func ExpireQueued(s *sched.Scheduler) Func {
	return func(context.Context) (int64, error) {
		return int64(s.Expire(time.Now().UTC())), nil
	}
}

// PruneWAL deletes settled write-ahead entries older than retention.
// Pending entries are kept regardless of age; recovery owns them.
func PruneWAL(store wal.Store, retention time.Duration) Func {
	return func(ctx context.Context) (int64, error) {
		return store.PruneWAL(ctx, time.Now().UTC().Add(-retention))
	}
}

// PurgeSagas deletes terminal saga executions older than retention.
func PurgeSagas(store saga.Store, retention time.Duration) Func {
	return func(ctx context.Context) (int64, error) {
		return store.PurgeSagas(ctx, time.Now().UTC().Add(-retention))
	}
}
