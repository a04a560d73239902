// Package engine wires all Floodgate subsystems together. It creates
// the extension registry, admission counter, fair scheduler, admission
// pipeline, tool executor, saga runner, intervention service, and
// janitor, and exposes the assembled components.
//
// This package exists to break the import cycle: the root floodgate
// package defines Entity and the error vocabulary (imported by saga,
// wal, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/admission"
	"github.com/xraph/floodgate/ext"
	"github.com/xraph/floodgate/idempotency"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/janitor"
	mw "github.com/xraph/floodgate/middleware"
	"github.com/xraph/floodgate/pipeline"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/sched"
	"github.com/xraph/floodgate/statestore"
	"github.com/xraph/floodgate/tenant"
	"github.com/xraph/floodgate/toolkit"
	"github.com/xraph/floodgate/wal"
)

// Engine wraps a Gate with typed subsystem access.
// Use Build() to create one from a Gate.
type Engine struct {
	g          *floodgate.Gate
	extensions *ext.Registry
	states     statestore.Store
	tenants    tenant.Source

	counter   *admission.Counter
	scheduler *sched.Scheduler
	pipe      *pipeline.Pipeline
	executor  *toolkit.Executor
	idem      *idempotency.Cache

	orch          *saga.Orchestrator
	runner        *saga.Runner
	interventions *intervention.Service

	walStore wal.Store
	jan      *janitor.Janitor

	mws     []mw.Middleware
	quota   pipeline.QuotaChecker
	budget  pipeline.BudgetChecker
	pipeCfg pipeline.Config

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the tool executor's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQuota wires the external quota collaborator into the admission
// pipeline.
func WithQuota(q pipeline.QuotaChecker) Option {
	return func(eng *Engine) {
		eng.quota = q
	}
}

// WithBudget wires the external budget collaborator into the admission
// pipeline.
func WithBudget(b pipeline.BudgetChecker) Option {
	return func(eng *Engine) {
		eng.budget = b
	}
}

// WithPipelineConfig overrides the admission pipeline settings.
func WithPipelineConfig(cfg pipeline.Config) Option {
	return func(eng *Engine) {
		eng.pipeCfg = cfg
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Gate. The Gate's store must
// implement the wal, saga, and intervention store interfaces; states is
// the shared coordination store and tenants the plan source.
func Build(g *floodgate.Gate, states statestore.Store, tenants tenant.Source, opts ...Option) (*Engine, error) {
	logger := g.Logger()
	store := g.Store()

	if store == nil {
		return nil, floodgate.ErrNoStore
	}

	ws, ok := store.(wal.Store)
	if !ok {
		return nil, fmt.Errorf("floodgate: store does not implement wal.Store")
	}
	ss, ok := store.(saga.Store)
	if !ok {
		return nil, fmt.Errorf("floodgate: store does not implement saga.Store")
	}
	is, ok := store.(intervention.Store)
	if !ok {
		return nil, fmt.Errorf("floodgate: store does not implement intervention.Store")
	}

	eng := &Engine{
		g:          g,
		extensions: ext.NewRegistry(logger),
		states:     states,
		tenants:    tenants,
		walStore:   ws,
		pipeCfg:    pipeline.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := g.Config()

	// Admission counter with lease sweep events flowing to extensions.
	eng.counter = admission.NewCounter(states,
		admission.WithLeaseTTL(config.LeaseTTL),
		admission.WithLogger(logger),
		admission.WithEmitter(eng.extensions),
	)
	eng.scheduler = sched.New(sched.WithLogger(logger))

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithEmitter(eng.extensions),
	}
	if eng.quota != nil {
		pipeOpts = append(pipeOpts, pipeline.WithQuota(eng.quota))
	}
	if eng.budget != nil {
		pipeOpts = append(pipeOpts, pipeline.WithBudget(eng.budget))
	}
	eng.pipe = pipeline.New(eng.counter, eng.scheduler, tenants, eng.pipeCfg, pipeOpts...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/floodgate")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/floodgate")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	execMws := []mw.Middleware{tracingMw, metricsMw, mw.Logging(logger)}
	execMws = append(execMws, eng.mws...)

	eng.idem = idempotency.New(states,
		idempotency.WithTTL(config.IdempotencyTTL),
		idempotency.WithLogger(logger),
	)
	eng.executor = toolkit.NewExecutor(states, ws, eng.idem,
		toolkit.WithLogger(logger),
		toolkit.WithEmitter(eng.extensions),
		toolkit.WithMiddleware(execMws...),
	)

	// Saga subsystem: compensation failures escalate to the
	// intervention queue, lifecycle events flow to extensions.
	eng.interventions = intervention.NewService(is, ss, logger)
	eng.interventions.SetEmitter(eng.extensions)
	eng.orch = saga.NewOrchestrator(ss,
		saga.WithLogger(logger),
		saga.WithEscalator(eng.interventions),
		saga.WithEmitter(eng.extensions),
	)
	eng.runner = saga.NewRunner(eng.orch, logger)

	// Janitor: periodic reclaim, expiry, prune, and purge, each guarded
	// by a statestore try-lock.
	eng.jan = janitor.New(states, janitor.WithLogger(logger))
	sweep := fmt.Sprintf("@every %s", config.SweepInterval)
	if err := eng.jan.Register("lease-sweep", sweep, janitor.SweepLeases(eng.counter)); err != nil {
		return nil, err
	}
	if err := eng.jan.Register("queue-expiry", sweep, janitor.ExpireQueued(eng.scheduler)); err != nil {
		return nil, err
	}
	if err := eng.jan.Register("wal-prune", "@every 1h", janitor.PruneWAL(ws, config.WALRetention)); err != nil {
		return nil, err
	}
	if err := eng.jan.Register("saga-purge", "@every 1h", janitor.PurgeSagas(ss, config.SagaRetention)); err != nil {
		return nil, err
	}

	// Wire back into the Gate.
	g.SetMaintenance(eng.jan)
	g.SetSagaDrainer(eng.runner)
	g.SetExtensions(eng.extensions)

	return eng, nil
}

// Start runs crash recovery and begins background maintenance.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.recoverWAL(ctx); err != nil {
		eng.g.Logger().Warn("wal recovery failed", "error", err)
	}
	return eng.g.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.g.Stop(ctx)
}

// recoverWAL settles write-ahead entries left pending by a crash. An
// entry still pending after a full lease TTL has no live owner; it is
// marked failed so sagas and audits see a terminal state (the tool call
// may or may not have happened, which is exactly what the record says).
func (eng *Engine) recoverWAL(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-eng.g.Config().LeaseTTL)
	pending, err := eng.walStore.ListPendingWAL(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, entry := range pending {
		err := eng.walStore.CompleteWAL(ctx, entry.ID, wal.StatusFailed, nil,
			"interrupted: no completion recorded before restart")
		if err != nil {
			eng.g.Logger().Warn("wal recovery: completion failed",
				"entry_id", entry.ID, "error", err)
			continue
		}
		eng.g.Logger().Info("wal recovery: marked interrupted call failed",
			"entry_id", entry.ID,
			"tool", entry.Tool,
			"operation", entry.Operation)
	}
	return nil
}

// Admit runs a request through the admission pipeline.
func (eng *Engine) Admit(ctx context.Context, req pipeline.Request) (*pipeline.Decision, error) {
	return eng.pipe.Admit(ctx, req)
}

// Complete settles an admitted request.
func (eng *Engine) Complete(ctx context.Context, d *pipeline.Decision, usage pipeline.Usage) {
	eng.pipe.Complete(ctx, d, usage)
}

// Resume pops the next queued request through the admission chain.
func (eng *Engine) Resume(ctx context.Context) (*pipeline.Decision, bool, error) {
	return eng.pipe.Resume(ctx)
}

// RegisterTool adds a tool adapter with its resilience configuration.
func (eng *Engine) RegisterTool(adapter toolkit.Adapter, cfg toolkit.ToolConfig) {
	eng.executor.Register(adapter, cfg)
}

// Execute runs a tool call through the resilience stack.
func (eng *Engine) Execute(ctx context.Context, req toolkit.CallRequest) ([]byte, error) {
	return eng.executor.Execute(ctx, req)
}

// StartSaga launches a saga under the supervised runner and returns its ID.
func (eng *Engine) StartSaga(ctx context.Context, def saga.Definition, tenantID string) (sagaID string, err error) {
	id, err := eng.runner.Start(ctx, def, tenantID)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Gate returns the underlying Gate.
func (eng *Engine) Gate() *floodgate.Gate { return eng.g }

// Counter returns the admission counter.
func (eng *Engine) Counter() *admission.Counter { return eng.counter }

// Scheduler returns the fair scheduler.
func (eng *Engine) Scheduler() *sched.Scheduler { return eng.scheduler }

// Pipeline returns the admission pipeline.
func (eng *Engine) Pipeline() *pipeline.Pipeline { return eng.pipe }

// Executor returns the tool executor.
func (eng *Engine) Executor() *toolkit.Executor { return eng.executor }

// SagaRunner returns the saga runner.
func (eng *Engine) SagaRunner() *saga.Runner { return eng.runner }

// Interventions returns the manual-intervention service.
func (eng *Engine) Interventions() *intervention.Service { return eng.interventions }

// Janitor returns the maintenance scheduler.
func (eng *Engine) Janitor() *janitor.Janitor { return eng.jan }
