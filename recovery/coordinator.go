// Package recovery restarts failing subsystems, bounded by a
// per-subsystem attempt budget.
package recovery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/subsystem"
)

// DefaultMaxRestarts is the per-subsystem attempt budget for the
// process lifetime
const DefaultMaxRestarts = 3

// Strategy is a subsystem-specific recovery procedure. It runs with the
// instance already in Maintenance; a nil return puts the instance back
// to Active, an error leaves it in Error.
type Strategy func(inst *subsystem.Instance) error

// Restarter re-runs the construction path for a subsystem. The
// lifecycle manager satisfies it.
type Restarter interface {
	Restart(kind subsystem.Kind) error
}

// InstanceSource resolves a subsystem kind to its runtime record
type InstanceSource interface {
	Instance(kind subsystem.Kind) (*subsystem.Instance, bool)
}

// Coordinator reacts to reported subsystem errors. Severities below
// High are recorded on the instance but never actioned. Actionable
// reports run a registered subsystem-specific strategy when one exists,
// otherwise the default restart path: at most MaxRestarts
// reconstructions per subsystem for the lifetime of the process, after
// which the subsystem stays in Error permanently.
type Coordinator struct {
	instances   InstanceSource
	restarter   Restarter
	maxRestarts int
	logger      *slog.Logger
	metrics     *metric.Registry

	mu         sync.Mutex
	strategies map[subsystem.Kind]Strategy
	restarts   map[subsystem.Kind]int
	exhausted  map[subsystem.Kind]bool
}

// NewCoordinator creates a recovery coordinator
func NewCoordinator(instances InstanceSource, restarter Restarter, maxRestarts int, logger *slog.Logger, metrics *metric.Registry) *Coordinator {
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		instances:   instances,
		restarter:   restarter,
		maxRestarts: maxRestarts,
		logger:      logger.With("component", "recovery"),
		metrics:     metrics,
		strategies:  make(map[subsystem.Kind]Strategy),
		restarts:    make(map[subsystem.Kind]int),
		exhausted:   make(map[subsystem.Kind]bool),
	}
}

// RegisterStrategy installs a subsystem-specific recovery procedure,
// replacing any previous one. Registered strategies take precedence
// over the default restart path and are not bounded by the restart
// budget.
func (c *Coordinator) RegisterStrategy(kind subsystem.Kind, strategy Strategy) error {
	if !kind.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownSubsystem, kind),
			"recovery", "RegisterStrategy", "kind validation")
	}
	if strategy == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil strategy", errors.ErrInvalidConfig),
			"recovery", "RegisterStrategy", "strategy validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[kind] = strategy
	return nil
}

// ReportError records an error against a subsystem and, for High or
// Critical severity, attempts recovery. The returned error describes
// the recovery outcome, never the reported error itself; callers that
// only want to log a fault check nothing.
func (c *Coordinator) ReportError(kind subsystem.Kind, reported error, severity errors.Severity) error {
	inst, ok := c.instances.Instance(kind)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownSubsystem, kind),
			"recovery", "ReportError", "instance lookup")
	}

	inst.RecordError(reported, severity)
	c.logger.Info("subsystem error reported",
		"kind", kind,
		"severity", severity.String(),
		"error", reported)

	if !severity.Actionable() {
		return nil
	}

	c.mu.Lock()
	strategy, hasStrategy := c.strategies[kind]
	if c.exhausted[kind] {
		c.mu.Unlock()
		return errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrRecoveryExhausted, kind),
			"recovery", "ReportError", "budget check")
	}
	c.mu.Unlock()

	if hasStrategy {
		return c.runStrategy(inst, strategy)
	}
	return c.restart(inst)
}

// runStrategy executes a registered recovery procedure under
// Maintenance status
func (c *Coordinator) runStrategy(inst *subsystem.Instance, strategy Strategy) error {
	kind := inst.Descriptor.Kind
	if !inst.SetStatus(subsystem.StatusMaintenance) {
		return errors.Wrap(
			fmt.Errorf("cannot enter maintenance from %s", inst.Status()),
			"recovery", "runStrategy", "status transition")
	}

	if err := strategy(inst); err != nil {
		inst.SetStatus(subsystem.StatusError)
		c.recordOutcome(kind, "strategy_failure")
		c.logger.Warn("recovery strategy failed", "kind", kind, "error", err)
		return errors.Wrap(err, "recovery", "runStrategy", "strategy execution")
	}

	inst.SetStatus(subsystem.StatusActive)
	c.recordOutcome(kind, "strategy_success")
	c.logger.Info("recovery strategy succeeded", "kind", kind)
	return nil
}

// restart applies the default recovery path: bounded reconstruction
// through the lifecycle manager
func (c *Coordinator) restart(inst *subsystem.Instance) error {
	kind := inst.Descriptor.Kind

	c.mu.Lock()
	c.restarts[kind]++
	attempt := c.restarts[kind]
	if attempt > c.maxRestarts {
		c.exhausted[kind] = true
		c.mu.Unlock()

		inst.SetStatus(subsystem.StatusError)
		c.recordOutcome(kind, "exhausted")
		if inst.Descriptor.Critical() {
			c.logger.Error("CRITICAL subsystem permanently failed, restart budget exhausted",
				"kind", kind,
				"priority", inst.Descriptor.Priority,
				"max_restarts", c.maxRestarts)
		} else {
			c.logger.Warn("restart budget exhausted, subsystem permanently failed",
				"kind", kind,
				"max_restarts", c.maxRestarts)
		}
		return errors.Wrap(
			fmt.Errorf("%w: %s after %d attempts", errors.ErrRecoveryExhausted, kind, c.maxRestarts),
			"recovery", "restart", "budget check")
	}
	c.mu.Unlock()

	if !inst.SetStatus(subsystem.StatusMaintenance) {
		return errors.Wrap(
			fmt.Errorf("cannot enter maintenance from %s", inst.Status()),
			"recovery", "restart", "status transition")
	}

	c.logger.Info("restarting subsystem",
		"kind", kind,
		"attempt", attempt,
		"max_restarts", c.maxRestarts)

	if err := c.restarter.Restart(kind); err != nil {
		c.recordOutcome(kind, "restart_failure")
		return errors.Wrap(err, "recovery", "restart", "reconstruction")
	}

	c.recordOutcome(kind, "restart_success")
	return nil
}

// Attempts returns the restart count consumed by a subsystem
func (c *Coordinator) Attempts(kind subsystem.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts[kind]
}

// Exhausted reports whether a subsystem's restart budget is spent
func (c *Coordinator) Exhausted(kind subsystem.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted[kind]
}

func (c *Coordinator) recordOutcome(kind subsystem.Kind, outcome string) {
	if c.metrics != nil {
		c.metrics.Metrics.RecordRecovery(kind.String(), outcome)
	}
}
