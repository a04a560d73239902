package floodgate

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Gate.
type Option func(*Gate) error

// Storer is the minimal store interface held by the Gate. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
// Implementations satisfy store.Store which embeds all subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// maintenanceRunner is an internal interface for the janitor lifecycle.
type maintenanceRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// sagaDrainer is an internal interface for draining in-flight sagas.
type sagaDrainer interface {
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Gate is the central coordinator for admission, fair scheduling, tool
// execution, and saga recovery.
//
// Create one with New() and functional options. The Gate holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build() to wire everything together.
type Gate struct {
	config      Config
	logger      *slog.Logger
	store       Storer
	extensions  extensionEmitter
	maintenance maintenanceRunner
	sagas       sagaDrainer

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Gate with the given options.
func New(opts ...Option) (*Gate, error) {
	g := &Gate{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Logger returns the gate's logger.
func (g *Gate) Logger() *slog.Logger { return g.logger }

// Store returns the gate's store.
func (g *Gate) Store() Storer { return g.store }

// Config returns a copy of the gate's configuration.
func (g *Gate) Config() Config { return g.config }

// SetMaintenance sets the maintenance runner (called by the engine package).
func (g *Gate) SetMaintenance(m maintenanceRunner) { g.maintenance = m }

// SetSagaDrainer sets the saga drain hook (called by the engine package).
func (g *Gate) SetSagaDrainer(d sagaDrainer) { g.sagas = d }

// SetExtensions sets the extension emitter (called by the engine package).
func (g *Gate) SetExtensions(e extensionEmitter) { g.extensions = e }

// Start begins background maintenance.
func (g *Gate) Start(ctx context.Context) error {
	if g.maintenance == nil {
		return ErrNoStore
	}
	if err := g.maintenance.Start(ctx); err != nil {
		return err
	}
	g.started = true
	return nil
}

// Stop gracefully shuts down the gate: in-flight sagas are drained
// within Config.ShutdownTimeout, maintenance stops, extensions see the
// shutdown event, and the store closes.
func (g *Gate) Stop(ctx context.Context) error {
	if g.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.ShutdownTimeout)
		defer cancel()
	}

	if g.sagas != nil {
		if err := g.sagas.Stop(ctx); err != nil {
			g.logger.Error("saga drain error", "error", err)
		}
	}
	if g.maintenance != nil && g.started {
		if err := g.maintenance.Stop(ctx); err != nil {
			g.logger.Error("maintenance stop error", "error", err)
		}
	}
	if g.extensions != nil {
		g.extensions.EmitShutdown(ctx)
	}
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

// WithLogger sets the structured logger for the gate.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) error {
		g.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the gate.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(g *Gate) error {
		g.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(g *Gate) error {
		g.config = c
		return nil
	}
}

// WithLeaseTTL sets how long an admission token stays valid without
// renewal.
func WithLeaseTTL(d time.Duration) Option {
	return func(g *Gate) error {
		g.config.LeaseTTL = d
		return nil
	}
}

// WithSweepInterval sets how often expired token leases are reclaimed.
func WithSweepInterval(d time.Duration) Option {
	return func(g *Gate) error {
		g.config.SweepInterval = d
		return nil
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(g *Gate) error {
		g.config.ShutdownTimeout = d
		return nil
	}
}
