// Package floodgate provides the admission, fair-scheduling, and
// failure-recovery core for multi-tenant request-serving gateways that
// front expensive downstream work (model inference, external tool calls).
//
// Floodgate is designed as a library, not a service. Import it, configure
// a state store, and wire the pieces your gateway needs:
//
//   - admission: per-tenant concurrency leases with crash-safe TTL reclaim
//   - sched: weighted fair queuing across tenants with priority boosts
//   - pipeline: the per-request admission decision (concurrency, quota,
//     budget, load) with an explicit, auditable fail-open policy
//   - breaker, bulkhead, retry, idempotency, wal: resilience primitives
//     composed by the toolkit executor around every downstream call
//   - saga: strictly sequential multi-step execution with reverse-order
//     compensation and a supervised runner
//
// # Quick Start
//
//	g, err := floodgate.New(
//	    floodgate.WithLogger(logger),
//	    floodgate.WithStore(memory.New()),
//	    floodgate.WithShutdownTimeout(30*time.Second),
//	)
//	eng, err := engine.Build(g, statememory.New(), tenant.NewStaticSource())
//	eng.RegisterTool(searchAdapter, toolkit.DefaultToolConfig())
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	decision, err := eng.Admit(ctx, pipeline.Request{TenantID: tenantID})
//
// # Architecture
//
// Floodgate follows a composable store pattern: each subsystem (wal, saga,
// intervention) defines its own store interface and a single backend
// implements all of them. Shared coordination state (admission counters,
// breaker records, idempotency entries, leases) goes through the statestore
// package's atomic primitives, never in-process locks, so multiple gateway
// instances can share one backing store.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package floodgate
