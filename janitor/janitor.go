// Package janitor runs the periodic maintenance work the gateway needs
// to stay healthy: reclaiming expired admission leases, expiring stale
// queue entries, pruning settled write-ahead entries and purging finished
// sagas. Jobs run on cron schedules; a per-job try-lock in the shared
// state store keeps each tick to a single instance when several gateways
// share a backend.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/statestore"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Func is one maintenance job. The returned count is how many records
// the run reclaimed, pruned or expired.
type Func func(ctx context.Context) (int64, error)

type entry struct {
	name     string
	schedule cronlib.Schedule
	run      Func
	next     time.Time
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithTickInterval sets how often the janitor checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(j *Janitor) { j.tickInterval = d }
}

// WithLockTTL sets the TTL for per-job distributed locks.
func WithLockTTL(d time.Duration) Option {
	return func(j *Janitor) { j.lockTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// Janitor schedules and runs maintenance jobs on a tick loop.
type Janitor struct {
	states     statestore.Store
	instanceID id.InstanceID
	logger     *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	mu      sync.Mutex
	entries []*entry
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Janitor over the shared state store.
func New(states statestore.Store, opts ...Option) *Janitor {
	j := &Janitor{
		states:       states,
		instanceID:   id.NewInstanceID(),
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Register adds a job under the given cron expression. Must be called
// before Start.
func (j *Janitor) Register(name, expr string, fn Func) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("janitor: parse schedule %q for %q: %w", expr, name, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, &entry{
		name:     name,
		schedule: schedule,
		run:      fn,
		next:     schedule.Next(time.Now().UTC()),
	})
	return nil
}

// Start launches the tick goroutine.
func (j *Janitor) Start(_ context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.mu.Unlock()

	j.wg.Add(1)
	go j.tickLoop()
	j.logger.Info("janitor started",
		slog.String("instance_id", j.instanceID.String()),
		slog.Duration("tick_interval", j.tickInterval),
	)
	return nil
}

// Stop signals the janitor to stop and waits for in-flight jobs.
func (j *Janitor) Stop(_ context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) tickLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.tick(time.Now().UTC())
		}
	}
}

// tick runs every due job once. Exported behavior is tested through
// RunDue; the loop only supplies the clock.
func (j *Janitor) tick(now time.Time) {
	ctx := context.Background()

	j.mu.Lock()
	due := make([]*entry, 0, len(j.entries))
	for _, e := range j.entries {
		if !e.next.After(now) {
			due = append(due, e)
			e.next = e.schedule.Next(now)
		}
	}
	j.mu.Unlock()

	for _, e := range due {
		j.runJob(ctx, e)
	}
}

// RunDue fires every job whose schedule has elapsed as of now. Exposed
// for single-shot invocation from operational tooling.
func (j *Janitor) RunDue(now time.Time) {
	j.tick(now)
}

// runJob executes one job under its distributed try-lock. Losing the
// lock race is the normal case on all but one instance.
func (j *Janitor) runJob(ctx context.Context, e *entry) {
	lockKey := "floodgate:janitor:lock:" + e.name
	acquired, err := j.states.SetNX(ctx, lockKey, []byte(j.instanceID.String()), j.lockTTL)
	if err != nil {
		j.logger.Error("janitor lock error",
			slog.String("job", e.name),
			slog.Any("error", err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if _, err := j.states.DeleteIfEquals(ctx, lockKey, []byte(j.instanceID.String())); err != nil {
			j.logger.Warn("janitor unlock error",
				slog.String("job", e.name),
				slog.Any("error", err))
		}
	}()

	start := time.Now()
	n, err := e.run(ctx)
	if err != nil {
		j.logger.Error("janitor job failed",
			slog.String("job", e.name),
			slog.Any("error", err))
		return
	}
	if n > 0 {
		j.logger.Info("janitor job done",
			slog.String("job", e.name),
			slog.Int64("reclaimed", n),
			slog.Duration("took", time.Since(start)))
	}
}
