// Package lifecycle constructs subsystems in dependency order, tracks
// their runtime status and performs ordered shutdown.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/bus"
	"github.com/agrisim/simkernel/depgraph"
	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/subsystem"
)

// LifecycleSubject is the bus subject for the coarse lifecycle event
// published once after initialization completes
const LifecycleSubject = "kernel_lifecycle"

// InitReport is the payload of the post-initialization lifecycle event
type InitReport struct {
	Successes int           `json:"successes"`
	Failures  int           `json:"failures"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Manager owns the instance table. It constructs subsystems in resolved
// order, converts construction failures into Error status instead of
// propagating them, and shuts instances down in exactly the reverse of
// their realized creation order.
//
// Manager follows the lifecycle:
//
//	Initialize(ctx) - resolve order and construct every registered subsystem
//	Shutdown(ctx)   - close instances in reverse creation order, idempotent
type Manager struct {
	registry *subsystem.Registry
	resolver *depgraph.Resolver
	eventBus bus.Bus
	logger   *slog.Logger
	metrics  *metric.Registry

	mu          sync.RWMutex
	instances   map[subsystem.Kind]*subsystem.Instance
	createOrder []subsystem.Kind // realized construction successes, in order
	initialized bool
	shutdown    bool
}

// NewManager creates a lifecycle manager
func NewManager(
	registry *subsystem.Registry,
	resolver *depgraph.Resolver,
	eventBus bus.Bus,
	logger *slog.Logger,
	metrics *metric.Registry,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:  registry,
		resolver:  resolver,
		eventBus:  eventBus,
		logger:    logger.With("component", "lifecycle"),
		metrics:   metrics,
		instances: make(map[subsystem.Kind]*subsystem.Instance),
	}
}

// Initialize resolves the dependency order and constructs every
// registered subsystem. A factory error or panic leaves that instance in
// Error status; initialization always continues with the remaining
// descriptors. After initialization there is one instance per
// descriptor, each either Active or Error, and one lifecycle event is
// published carrying the success/failure counts. Cancelling ctx stops
// running further factories; descriptors not yet visited are recorded
// as Error so the per-descriptor guarantee holds under cancellation too.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyInitialized, "lifecycle", "Initialize", "state check")
	}
	if m.shutdown {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrShuttingDown, "lifecycle", "Initialize", "state check")
	}
	m.initialized = true
	m.mu.Unlock()

	started := time.Now()
	order := m.resolver.Resolve(m.registry.Descriptors())

	m.logger.Info("initializing subsystems", "count", len(order))

	var successes, failures int
	var ctxErr error
	for i, desc := range order {
		select {
		case <-ctx.Done():
			// cancelled mid-initialization: the unvisited descriptors
			// still get an Error instance record, so every descriptor
			// ends in Active or Error either way
			for _, rest := range order[i:] {
				m.abort(rest, ctx.Err())
				failures++
			}
			ctxErr = errors.Wrap(ctx.Err(), "lifecycle", "Initialize", "context check")
		default:
		}
		if ctxErr != nil {
			break
		}

		if m.construct(desc) == nil {
			successes++
		} else {
			failures++
		}
	}

	elapsed := time.Since(started)
	if m.metrics != nil {
		m.metrics.Metrics.InitDuration.Observe(elapsed.Seconds())
	}
	m.logger.Info("initialization complete",
		"successes", successes,
		"failures", failures,
		"elapsed", elapsed)

	if m.eventBus != nil {
		err := m.eventBus.Publish(LifecycleSubject, InitReport{
			Successes: successes,
			Failures:  failures,
			Elapsed:   elapsed,
		})
		if err != nil {
			m.logger.Warn("lifecycle event publish failed", "error", err)
		}
	}
	return ctxErr
}

// abort records an Error instance for a descriptor whose factory never
// ran because initialization was cancelled
func (m *Manager) abort(desc subsystem.Descriptor, cause error) {
	inst := subsystem.NewInstance(desc)

	m.mu.Lock()
	m.instances[desc.Kind] = inst
	m.mu.Unlock()

	inst.SetStatus(subsystem.StatusInitializing)
	m.markFailed(inst, errors.Wrap(cause, "lifecycle", "Initialize", "cancelled before construction"))
}

// construct creates the instance record for desc and runs its factory.
// It takes and releases m.mu itself so a slow factory does not block
// status reads.
func (m *Manager) construct(desc subsystem.Descriptor) error {
	inst := subsystem.NewInstance(desc)

	m.mu.Lock()
	m.instances[desc.Kind] = inst
	m.mu.Unlock()

	inst.SetStatus(subsystem.StatusInitializing)
	m.recordStatus(inst)

	impl, err := m.runFactory(desc)
	if err != nil {
		m.markFailed(inst, err)
		return err
	}

	inst.SetImpl(impl)

	m.mu.Lock()
	inst.StartOrder = len(m.createOrder)
	m.createOrder = append(m.createOrder, desc.Kind)
	m.mu.Unlock()

	inst.SetStatus(subsystem.StatusActive)
	m.recordStatus(inst)

	m.logger.Info("subsystem active",
		"kind", desc.Kind,
		"priority", desc.Priority,
		"start_order", inst.StartOrder)
	return nil
}

// runFactory invokes the factory with best-effort dependency handles and
// converts panics into errors
func (m *Manager) runFactory(desc subsystem.Descriptor) (impl subsystem.Subsystem, err error) {
	factory, ok := m.registry.Factory(desc.Kind)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownSubsystem, desc.Kind),
			"lifecycle", "runFactory", "factory lookup")
	}

	defer func() {
		if r := recover(); r != nil {
			impl = nil
			err = errors.WrapFatal(
				fmt.Errorf("%w: factory panic: %v", errors.ErrConstructionFailed, r),
				"lifecycle", "runFactory", "construct "+desc.Kind.String())
		}
	}()

	// Injection is best-effort: a dependency that failed, was forced
	// through a dependency deadlock, or is absent is simply left out of
	// the handle map.
	handles := make(map[subsystem.Kind]subsystem.Subsystem, len(desc.Dependencies))
	m.mu.RLock()
	for _, dep := range desc.Dependencies {
		depInst, exists := m.instances[dep]
		if !exists {
			continue
		}
		if depInst.Status() == subsystem.StatusActive {
			handles[dep] = depInst.Impl()
		}
	}
	m.mu.RUnlock()

	impl, err = factory(subsystem.Dependencies{
		Bus:     m.eventBus,
		Logger:  m.logger.With("subsystem", desc.Kind.String()),
		Metrics: m.metrics,
		Config:  desc.Config,
		Handles: handles,
	})
	if err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %w", errors.ErrConstructionFailed, err),
			"lifecycle", "runFactory", "construct "+desc.Kind.String())
	}
	if impl == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: factory returned nil", errors.ErrConstructionFailed),
			"lifecycle", "runFactory", "construct "+desc.Kind.String())
	}
	return impl, nil
}

// markFailed moves an instance to Error and escalates foundational
// subsystem failures to the operator log. Failure never halts the
// process.
func (m *Manager) markFailed(inst *subsystem.Instance, err error) {
	inst.RecordError(err, errors.SeverityHigh)
	inst.SetStatus(subsystem.StatusError)
	m.recordStatus(inst)

	if inst.Descriptor.Critical() {
		m.logger.Error("CRITICAL subsystem failed to initialize",
			"kind", inst.Descriptor.Kind,
			"priority", inst.Descriptor.Priority,
			"error", err)
	} else {
		m.logger.Warn("subsystem failed to initialize",
			"kind", inst.Descriptor.Kind,
			"error", err)
	}
}

// Restart re-runs construction for an existing instance. The instance
// must already be in Maintenance; the caller (the recovery coordinator)
// owns that transition. On success the instance is Active with a fresh
// implementation, on failure it is Error.
func (m *Manager) Restart(kind subsystem.Kind) error {
	inst, ok := m.Instance(kind)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownSubsystem, kind),
			"lifecycle", "Restart", "instance lookup")
	}
	if inst.Status() != subsystem.StatusMaintenance {
		return errors.WrapInvalid(
			fmt.Errorf("restart requires maintenance status, have %s", inst.Status()),
			"lifecycle", "Restart", "status check")
	}

	if old := inst.Impl(); old != nil {
		if closer, ok := old.(subsystem.Closer); ok {
			if err := closer.Close(); err != nil {
				m.logger.Warn("close before restart failed", "kind", kind, "error", err)
			}
		}
	}

	impl, err := m.runFactory(inst.Descriptor)
	if err != nil {
		inst.RecordError(err, errors.SeverityHigh)
		inst.SetStatus(subsystem.StatusError)
		m.recordStatus(inst)
		return err
	}

	inst.SetImpl(impl)
	inst.SetStatus(subsystem.StatusActive)
	m.recordStatus(inst)
	m.logger.Info("subsystem restarted", "kind", kind)
	return nil
}

// Shutdown closes instances in exactly the reverse of their realized
// creation order. Close errors are logged and swallowed so one failing
// subsystem never blocks the rest of teardown. Shutdown is idempotent
// and a no-op before Initialize.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if !m.initialized || m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	reversed := make([]subsystem.Kind, len(m.createOrder))
	for i, kind := range m.createOrder {
		reversed[len(m.createOrder)-1-i] = kind
	}
	m.mu.Unlock()

	m.logger.Info("shutting down subsystems", "count", len(reversed))

	for _, kind := range reversed {
		select {
		case <-ctx.Done():
			m.logger.Warn("shutdown context expired", "remaining", kind)
		default:
		}

		inst, ok := m.Instance(kind)
		if !ok {
			continue
		}
		if impl := inst.Impl(); impl != nil {
			if closer, ok := impl.(subsystem.Closer); ok {
				if err := closer.Close(); err != nil {
					m.logger.Warn("subsystem close failed", "kind", kind, "error", err)
				}
			}
		}
		inst.SetStatus(subsystem.StatusShutdown)
		m.recordStatus(inst)
	}

	// Instances that never constructed go to Shutdown too
	m.mu.RLock()
	for _, inst := range m.instances {
		if !inst.Status().Terminal() {
			inst.SetStatus(subsystem.StatusShutdown)
			m.recordStatus(inst)
		}
	}
	m.mu.RUnlock()

	m.logger.Info("shutdown complete")
}

// Instance returns the runtime record for a kind
func (m *Manager) Instance(kind subsystem.Kind) (*subsystem.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[kind]
	return inst, ok
}

// Instances returns every runtime record
func (m *Manager) Instances() []*subsystem.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*subsystem.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// CreateOrder returns the realized construction order
func (m *Manager) CreateOrder() []subsystem.Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]subsystem.Kind, len(m.createOrder))
	copy(out, m.createOrder)
	return out
}

// IsInitialized reports whether Initialize has run
func (m *Manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// IsShutdown reports whether Shutdown has run
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdown
}

func (m *Manager) recordStatus(inst *subsystem.Instance) {
	if m.metrics != nil {
		m.metrics.Metrics.RecordSubsystemStatus(inst.Descriptor.Kind.String(), int(inst.Status()))
	}
}
