// Package orchestrator assembles the simulation kernel: registry,
// dependency resolver, lifecycle manager, data flow router, queue
// coordination loop, health monitor and recovery coordinator, behind
// one value constructed by the process entry point.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/bus"
	"github.com/agrisim/simkernel/config"
	"github.com/agrisim/simkernel/dataflow"
	"github.com/agrisim/simkernel/depgraph"
	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/health"
	"github.com/agrisim/simkernel/lifecycle"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/recovery"
	"github.com/agrisim/simkernel/subsystem"
)

// Orchestrator is the top-level kernel value. There are no package
// level singletons: the entry point constructs one Orchestrator and
// passes it by handle to whoever needs it.
type Orchestrator struct {
	cfg     *config.SafeConfig
	logger  *slog.Logger
	metrics *metric.Registry

	eventBus    bus.Bus
	ownsBus     bool
	registry    *subsystem.Registry
	lifecycle   *lifecycle.Manager
	router      *dataflow.Router
	queues      *dataflow.QueueSet
	coordinator *dataflow.Coordinator
	monitor     *health.Monitor
	recovery    *recovery.Coordinator

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option customizes orchestrator construction
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *metric.Registry
	eventBus bus.Bus
}

// WithLogger sets the kernel logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry sets the metrics registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(o *options) { o.metrics = registry }
}

// WithBus injects an externally-owned event bus. The orchestrator will
// not close an injected bus on Stop.
func WithBus(b bus.Bus) Option {
	return func(o *options) { o.eventBus = b }
}

// New builds a kernel from configuration. With no injected bus, a NATS
// connection is made when cfg.NATS.URL is set, otherwise the in-process
// bus is used.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "orchestrator", "New", "config validation")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metric.NewRegistry()
	}

	logger := o.logger.With("platform", cfg.Platform.ID)

	eventBus := o.eventBus
	ownsBus := false
	if eventBus == nil {
		ownsBus = true
		if cfg.NATS.URL != "" {
			nb, err := bus.ConnectNATS(ctx, bus.NATSConfig{
				URL:            cfg.NATS.URL,
				Name:           cfg.NATS.Name,
				ConnectTimeout: cfg.NATS.ConnectTimeout,
				MaxReconnects:  cfg.NATS.MaxReconnects,
				ReconnectWait:  cfg.NATS.ReconnectWait,
				DrainTimeout:   cfg.NATS.DrainTimeout,
			}, bus.WithNATSLogger(logger), bus.WithNATSMetrics(o.metrics))
			if err != nil {
				return nil, errors.Wrap(err, "orchestrator", "New", "bus connect")
			}
			eventBus = nb
		} else {
			eventBus = bus.NewInProc(bus.DefaultInProcConfig(),
				bus.WithLogger(logger), bus.WithMetrics(o.metrics))
		}
	}

	registry := subsystem.NewRegistry(logger)
	resolver := depgraph.NewResolver(logger)
	manager := lifecycle.NewManager(registry, resolver, eventBus, logger, o.metrics)
	router := dataflow.NewRouter(manager, eventBus, logger, o.metrics)
	queues := dataflow.NewQueueSet(cfg.Kernel.QueueCapacity, router, o.metrics)
	coordinator := dataflow.NewCoordinator(router, queues, dataflow.CoordinatorConfig{
		Interval:  cfg.Kernel.DrainInterval,
		BatchSize: cfg.Kernel.DrainBatchSize,
	}, logger, o.metrics)
	monitor := health.NewMonitor(manager, health.MonitorConfig{
		Interval:       cfg.Kernel.HealthInterval,
		ErrorHighWater: cfg.Kernel.DegradedErrorMax,
		LatencyCeiling: time.Duration(cfg.Kernel.DegradedLatencyMs) * time.Millisecond,
	}, logger, o.metrics)
	recoverer := recovery.NewCoordinator(manager, manager, cfg.Kernel.MaxRestarts, logger, o.metrics)

	return &Orchestrator{
		cfg:         config.NewSafeConfig(cfg),
		logger:      logger.With("component", "orchestrator"),
		metrics:     o.metrics,
		eventBus:    eventBus,
		ownsBus:     ownsBus,
		registry:    registry,
		lifecycle:   manager,
		router:      router,
		queues:      queues,
		coordinator: coordinator,
		monitor:     monitor,
		recovery:    recoverer,
	}, nil
}

// Register declares a subsystem before Start. The kernel config's
// matching subsystem section is merged into the descriptor config, with
// descriptor-level keys winning.
func (o *Orchestrator) Register(desc subsystem.Descriptor, factory subsystem.Factory) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, "orchestrator", "Register", "state check")
	}

	section := o.cfg.Subsystem(desc.Kind.String())
	if len(section) > 0 {
		merged := make(map[string]any, len(section)+len(desc.Config))
		for k, v := range section {
			merged[k] = v
		}
		for k, v := range desc.Config {
			merged[k] = v
		}
		desc.Config = merged
	}

	return o.registry.Register(desc, factory)
}

// DeclareRoute installs a data flow route
func (o *Orchestrator) DeclareRoute(route dataflow.Route) error {
	return o.router.Declare(route)
}

// RegisterRecoveryStrategy installs a subsystem-specific recovery
// procedure
func (o *Orchestrator) RegisterRecoveryStrategy(kind subsystem.Kind, strategy recovery.Strategy) error {
	return o.recovery.RegisterStrategy(kind, strategy)
}

// Start initializes every registered subsystem in dependency order and
// launches the two background loops. Partial startup is a supported
// outcome: construction failures leave instances in Error and Start
// still returns nil.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyInitialized, "orchestrator", "Start", "state check")
	}
	if o.stopped {
		o.mu.Unlock()
		return errors.Wrap(errors.ErrShuttingDown, "orchestrator", "Start", "state check")
	}
	o.started = true
	o.mu.Unlock()

	if err := o.lifecycle.Initialize(ctx); err != nil {
		return err
	}

	o.coordinator.Start(ctx)
	o.monitor.Start(ctx)
	o.logger.Info("kernel started")
	return nil
}

// Stop halts the background loops, shuts subsystems down in reverse
// creation order and closes an orchestrator-owned bus. Idempotent, and
// a no-op before Start.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	timeout := o.cfg.Get().Kernel.ShutdownTimeout

	o.monitor.Stop(timeout)
	o.coordinator.Stop(timeout)
	o.lifecycle.Shutdown(ctx)

	if o.ownsBus {
		if err := o.eventBus.Close(timeout); err != nil {
			o.logger.Warn("bus close failed", "error", err)
		}
	}
	o.logger.Info("kernel stopped")
}

// Route sends a payload synchronously through the router
func (o *Orchestrator) Route(source, target subsystem.Kind, messageKind string, payload any) error {
	return o.router.Route(source, target, messageKind, payload)
}

// Enqueue hands a payload to the target's FIFO queue for background
// delivery
func (o *Orchestrator) Enqueue(source, target subsystem.Kind, messageKind string, payload any, priority dataflow.RoutePriority) error {
	return o.queues.Enqueue(source, target, messageKind, payload, priority)
}

// ReportError feeds a subsystem fault into the recovery coordinator
func (o *Orchestrator) ReportError(kind subsystem.Kind, reported error, severity errors.Severity) error {
	return o.recovery.ReportError(kind, reported, severity)
}

// Subsystem returns the live implementation for a kind, when Active
func (o *Orchestrator) Subsystem(kind subsystem.Kind) (subsystem.Subsystem, bool) {
	inst, ok := o.lifecycle.Instance(kind)
	if !ok || inst.Status() != subsystem.StatusActive {
		return nil, false
	}
	return inst.Impl(), true
}

// Bus returns the kernel's event bus
func (o *Orchestrator) Bus() bus.Bus {
	return o.eventBus
}

// Health returns the most recently computed aggregate health status
func (o *Orchestrator) Health() health.Status {
	return o.monitor.Aggregate()
}
