// Package contextmesh provides a high-level façade over the coordination
// components (conflict resolution, aggregation, synchronization, sharing,
// routing, publish-subscribe and leader-follower groups) enabling rapid
// construction of multi-agent shared-context systems. Most applications
// interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the default in-memory
//     store, the transport and per-component configuration)
//  2. Calling Start() to launch the periodic background sweeps
//  3. Working through the component accessors (Synchronizer, Sharing, ...)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable context store, a real transport and
// a structured logger.
package contextmesh

import (
	"context"
	"sync"

	"github.com/hupe1980/contextmesh/aggregate"
	"github.com/hupe1980/contextmesh/conflict"
	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/leader"
	"github.com/hupe1980/contextmesh/logging"
	"github.com/hupe1980/contextmesh/pubsub"
	"github.com/hupe1980/contextmesh/routing"
	"github.com/hupe1980/contextmesh/sharing"
	"github.com/hupe1980/contextmesh/store"
	"github.com/hupe1980/contextmesh/syncer"
)

// Options configures the Mesh instance.
type Options struct {
	// SyncConfig tunes synchronization (mode, timeouts, batching).
	SyncConfig syncer.Config

	// SharingConfig tunes permission retention and anonymization.
	SharingConfig sharing.Config

	// RoutingConfig tunes agent selection and load tracking.
	RoutingConfig routing.Config

	// PubSubConfig tunes topic retention and batch delivery.
	PubSubConfig pubsub.Config

	// LeaderConfig tunes election timeouts and heartbeat cadence.
	LeaderConfig leader.Config

	// Priorities seeds agent priorities for priority-based conflict
	// resolution.
	Priorities map[string]core.Priority

	// Store persists agent contexts (defaults to the in-memory store).
	Store core.ContextStore

	// Transport delivers updates to peer agents (defaults to NoOpTransport).
	Transport core.Transport

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the coordination components over
// a shared store, event bus and scheduler.
type Mesh struct {
	mu      sync.Mutex
	started bool

	opts      Options
	store     core.ContextStore
	bus       *core.EventBus
	scheduler *core.Scheduler

	resolver     *conflict.Resolver
	aggregator   *aggregate.Aggregator
	synchronizer *syncer.Synchronizer
	sharing      *sharing.Manager
	router       *routing.Router
	broker       *pubsub.Broker
	coordinator  *leader.Coordinator
}

// New creates a Mesh with optional overrides. Any unset collaborator is
// initialized with an in-memory or no-op implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		SyncConfig:    syncer.DefaultConfig,
		SharingConfig: sharing.DefaultConfig,
		RoutingConfig: routing.DefaultConfig,
		PubSubConfig:  pubsub.DefaultConfig,
		LeaderConfig:  leader.DefaultConfig,
		Store:         store.NewInMemoryStore(),
		Transport:     core.NoOpTransport{},
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.Transport == nil {
		opts.Transport = core.NoOpTransport{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	bus := core.NewEventBus(opts.Logger)

	resolver := conflict.New(func(o *conflict.Options) {
		o.Priorities = opts.Priorities
		o.Bus = bus
		o.Logger = opts.Logger
	})

	aggregator := aggregate.New(resolver, func(o *aggregate.Options) {
		o.Logger = opts.Logger
	})

	synchronizer := syncer.New(opts.Store, func(o *syncer.Options) {
		o.Config = opts.SyncConfig
		o.Transport = opts.Transport
		o.Aggregator = aggregator
		o.Bus = bus
		o.Logger = opts.Logger
	})

	sharingManager := sharing.New(opts.Store, func(o *sharing.Options) {
		o.Config = opts.SharingConfig
		o.Bus = bus
		o.Logger = opts.Logger
	})

	router := routing.New(func(o *routing.Options) {
		o.Config = opts.RoutingConfig
		o.Logger = opts.Logger
	})

	broker := pubsub.New(func(o *pubsub.Options) {
		o.Config = opts.PubSubConfig
		o.Bus = bus
		o.Logger = opts.Logger
	})

	coordinator := leader.New(opts.Store, func(o *leader.Options) {
		o.Config = opts.LeaderConfig
		o.Transport = opts.Transport
		o.Utilization = router.Utilization
		o.Bus = bus
		o.Logger = opts.Logger
	})

	return &Mesh{
		opts:         opts,
		store:        opts.Store,
		bus:          bus,
		scheduler:    core.NewScheduler(opts.Logger),
		resolver:     resolver,
		aggregator:   aggregator,
		synchronizer: synchronizer,
		sharing:      sharingManager,
		router:       router,
		broker:       broker,
		coordinator:  coordinator,
	}
}

// Start launches the periodic background sweeps (consensus expiry, health
// checks, batch drains, retention trims, load decay, leader failover). It is
// an error to start a mesh twice.
func (m *Mesh) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	registrations := []func(*core.Scheduler) error{
		m.resolver.RegisterSweeps,
		m.synchronizer.RegisterSweeps,
		m.sharing.RegisterSweeps,
		m.router.RegisterSweeps,
		m.broker.RegisterSweeps,
		m.coordinator.RegisterSweeps,
	}
	for _, register := range registrations {
		if err := register(m.scheduler); err != nil {
			m.scheduler.Stop()
			return err
		}
	}

	m.started = true
	return nil
}

// Stop cancels every background sweep, waits for them to exit and flushes
// pending batch deliveries so accumulated messages are not lost.
func (m *Mesh) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler.Stop()
	m.broker.FlushBatches()
	m.started = false
}

// Store returns the shared context store.
func (m *Mesh) Store() core.ContextStore { return m.store }

// Events returns the shared lifecycle event bus.
func (m *Mesh) Events() *core.EventBus { return m.bus }

// Resolver returns the conflict resolver.
func (m *Mesh) Resolver() *conflict.Resolver { return m.resolver }

// Aggregator returns the context aggregator.
func (m *Mesh) Aggregator() *aggregate.Aggregator { return m.aggregator }

// Synchronizer returns the context synchronizer.
func (m *Mesh) Synchronizer() *syncer.Synchronizer { return m.synchronizer }

// Sharing returns the permission-gated sharing manager.
func (m *Mesh) Sharing() *sharing.Manager { return m.sharing }

// Router returns the capability/load/proximity router.
func (m *Mesh) Router() *routing.Router { return m.router }

// Broker returns the publish-subscribe broker.
func (m *Mesh) Broker() *pubsub.Broker { return m.broker }

// Coordinator returns the leader-follower coordinator.
func (m *Mesh) Coordinator() *leader.Coordinator { return m.coordinator }
