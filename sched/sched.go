// Package sched implements the weighted fair scheduler for requests that
// were denied immediate admission. Each tenant has a bounded queue; the
// scheduler dequeues by virtual finish time so that long-run throughput is
// proportional to the tenant's fair-share weight regardless of arrival
// bursts. Priority boosts a tenant's effective weight for a single request
// rather than overriding fairness, so low-priority work cannot be starved.
package sched

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/tenant"
)

// Priority orders requests within and across tenants. It scales the
// tenant's effective weight for that single request.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Boost returns the multiplicative weight factor for the priority.
func (p Priority) Boost() float64 {
	switch p {
	case PriorityCritical:
		return 8
	case PriorityHigh:
		return 4
	case PriorityLow:
		return 0.5
	default:
		return 1
	}
}

// bucket maps a priority to its per-flow queue index, highest first.
func (p Priority) bucket() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

const numBuckets = 4

// Request is a queued admission request. Payload is an opaque reference
// the transport layer uses to resume handling once dequeued.
type Request struct {
	ID         id.RequestID `json:"id"`
	TenantID   string       `json:"tenant_id"`
	Priority   Priority     `json:"priority"`
	EnqueuedAt time.Time    `json:"enqueue_time"`
	Payload    any          `json:"-"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithServiceCost sets the virtual cost charged per dequeued request.
// Only the cost/weight ratio matters; the default of 1 is fine unless
// requests have heterogeneous sizes.
func WithServiceCost(cost float64) Option {
	return func(s *Scheduler) { s.serviceCost = cost }
}

// WithMaxAge bounds how long a request may wait before it is dropped as
// expired. Zero disables expiry.
func WithMaxAge(d time.Duration) Option {
	return func(s *Scheduler) { s.maxAge = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler holds bounded per-tenant queues and dequeues by weighted fair
// queuing. Safe for concurrent use.
type Scheduler struct {
	mu          sync.Mutex
	flows       map[string]*flow
	active      flowHeap
	clock       float64
	serviceCost float64
	maxAge      time.Duration
	logger      *slog.Logger

	queued  int
	expired int64
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		flows:       make(map[string]*flow),
		serviceCost: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// flow is the scheduling state for one tenant.
type flow struct {
	tenantID string
	weight   float64

	// buckets hold queued requests by priority, FIFO within a bucket.
	buckets [numBuckets][]*Request
	queued  int

	// finish is the tenant's virtual-finish-time counter; candidate is
	// the finish time its head request would have, used as the heap key.
	finish    float64
	candidate float64
	heapIndex int
}

func (f *flow) head() *Request {
	for i := range numBuckets {
		if len(f.buckets[i]) > 0 {
			return f.buckets[i][0]
		}
	}
	return nil
}

func (f *flow) popHead() *Request {
	for i := range numBuckets {
		if len(f.buckets[i]) > 0 {
			r := f.buckets[i][0]
			f.buckets[i] = f.buckets[i][1:]
			f.queued--
			return r
		}
	}
	return nil
}

// Enqueue adds a request to its tenant's queue. Returns
// floodgate.ErrQueueFull once the tenant's queue depth is reached —
// a normal rejection outcome, not a fault. Limits are re-read per call so
// plan changes take effect immediately.
func (s *Scheduler) Enqueue(req *Request, limits tenant.Limits) error {
	if req.ID.IsNil() {
		req.ID = id.NewRequestID()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[req.TenantID]
	if !ok {
		f = &flow{tenantID: req.TenantID, heapIndex: -1}
		s.flows[req.TenantID] = f
	}
	f.weight = limits.FairShareWeight
	if f.weight <= 0 {
		f.weight = 1
	}

	if limits.MaxQueueDepth > 0 && f.queued >= limits.MaxQueueDepth {
		return floodgate.ErrQueueFull
	}

	f.buckets[req.Priority.bucket()] = append(f.buckets[req.Priority.bucket()], req)
	f.queued++
	s.queued++

	s.updateFlow(f)
	return nil
}

// Dequeue removes and returns the ready request with the smallest virtual
// finish time. Returns (nil, false) when no request is queued.
func (s *Scheduler) Dequeue() (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for s.active.Len() > 0 {
		f := s.active[0]

		req := f.popHead()
		s.queued--

		// Expired entries are dropped without advancing virtual time;
		// the tenant should not be charged for work never served.
		if s.maxAge > 0 && now.Sub(req.EnqueuedAt) > s.maxAge {
			s.expired++
			s.logger.Debug("dropping expired queued request",
				slog.String("request_id", req.ID.String()),
				slog.String("tenant_id", req.TenantID),
			)
			s.updateFlow(f)
			continue
		}

		// Charge the tenant: advance its finish counter by
		// cost / (weight * priority boost) and the global clock with it.
		s.clock = f.candidate
		f.finish = f.candidate
		s.updateFlow(f)
		return req, true
	}
	return nil, false
}

// updateFlow recomputes the flow's candidate finish time and fixes its
// heap position. Caller must hold mu.
func (s *Scheduler) updateFlow(f *flow) {
	head := f.head()
	if head == nil {
		if f.heapIndex >= 0 {
			heap.Remove(&s.active, f.heapIndex)
		}
		return
	}

	start := f.finish
	if s.clock > start {
		// An idle tenant resumes at the current virtual time instead of
		// back-charging the share it never used.
		start = s.clock
	}
	f.candidate = start + s.serviceCost/(f.weight*head.Priority.Boost())

	if f.heapIndex < 0 {
		heap.Push(&s.active, f)
	} else {
		heap.Fix(&s.active, f.heapIndex)
	}
}

// Expire drops queued requests older than the configured max age and
// returns how many were dropped. A zero max age makes this a no-op.
func (s *Scheduler) Expire(now time.Time) int {
	if s.maxAge == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, f := range s.flows {
		for b := range numBuckets {
			kept := f.buckets[b][:0]
			for _, req := range f.buckets[b] {
				if now.Sub(req.EnqueuedAt) > s.maxAge {
					dropped++
					f.queued--
					s.queued--
					continue
				}
				kept = append(kept, req)
			}
			f.buckets[b] = kept
		}
		s.updateFlow(f)
	}
	s.expired += int64(dropped)
	return dropped
}

// QueueDepth returns the number of queued requests for a tenant.
func (s *Scheduler) QueueDepth(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[tenantID]; ok {
		return f.queued
	}
	return 0
}

// Stats reports system-wide scheduler counters.
type Stats struct {
	Queued  int   `json:"queued"`
	Tenants int   `json:"tenants"`
	Expired int64 `json:"expired"`
}

// SystemStats returns system-wide queue statistics.
func (s *Scheduler) SystemStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants := 0
	for _, f := range s.flows {
		if f.queued > 0 {
			tenants++
		}
	}
	return Stats{Queued: s.queued, Tenants: tenants, Expired: s.expired}
}

// ──────────────────────────────────────────────────
// flowHeap: min-heap of flows by candidate finish time
// ──────────────────────────────────────────────────

type flowHeap []*flow

func (h flowHeap) Len() int { return len(h) }

func (h flowHeap) Less(i, j int) bool {
	if h[i].candidate != h[j].candidate {
		return h[i].candidate < h[j].candidate
	}
	return h[i].tenantID < h[j].tenantID
}

func (h flowHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *flowHeap) Push(x any) {
	f := x.(*flow)
	f.heapIndex = len(*h)
	*h = append(*h, f)
}

func (h *flowHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	f.heapIndex = -1
	*h = old[:n-1]
	return f
}
