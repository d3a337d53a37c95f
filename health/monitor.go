package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/subsystem"
)

// InstanceLister exposes the runtime records the monitor polls. The
// lifecycle manager satisfies it.
type InstanceLister interface {
	Instances() []*subsystem.Instance
}

// MonitorConfig tunes the health loop and the demotion thresholds
type MonitorConfig struct {
	// Interval between poll cycles; per-descriptor health-check
	// intervals are advisory and do not override it
	Interval time.Duration
	// ErrorHighWater demotes an Active subsystem whose error count
	// exceeds it
	ErrorHighWater int
	// LatencyCeiling demotes an Active subsystem whose average response
	// time exceeds it
	LatencyCeiling time.Duration
}

// DefaultMonitorConfig returns working monitor tunables
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:       30 * time.Second,
		ErrorHighWater: 10,
		LatencyCeiling: 500 * time.Millisecond,
	}
}

// Monitor is the background health loop. Each cycle polls every Active
// instance, merges self-reported counters into the instance record,
// applies the demotion rule and recomputes the aggregate status.
//
// Demotion is monotonic within the monitor: it moves Active to Degraded
// and never promotes back. Promotion is the recovery coordinator's or
// an operator's call.
type Monitor struct {
	instances InstanceLister
	cfg       MonitorConfig
	logger    *slog.Logger
	metrics   *metric.Registry

	mu        sync.RWMutex
	aggregate Status
	lastCycle time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor creates a health monitor
func NewMonitor(instances InstanceLister, cfg MonitorConfig, logger *slog.Logger, metrics *metric.Registry) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ErrorHighWater <= 0 {
		cfg.ErrorHighWater = def.ErrorHighWater
	}
	if cfg.LatencyCeiling <= 0 {
		cfg.LatencyCeiling = def.LatencyCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		instances: instances,
		cfg:       cfg,
		logger:    logger.With("component", "health"),
		metrics:   metrics,
		aggregate: StatusHealthy,
		done:      make(chan struct{}),
	}
}

// Start launches the poll loop. Subsequent calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go m.run(ctx)
		m.logger.Info("health monitor started", "interval", m.cfg.Interval)
	})
}

// Stop signals the loop and waits for the in-flight cycle to finish,
// up to timeout
func (m *Monitor) Stop(timeout time.Duration) {
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			close(m.done) // never started
			return
		}
		m.cancel()
		select {
		case <-m.done:
		case <-time.After(timeout):
			m.logger.Warn("health monitor stop timed out", "timeout", timeout)
		}
	})
}

// Aggregate returns the most recently computed kernel status
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregate
}

// LastCycle returns the completion time of the most recent poll cycle
func (m *Monitor) LastCycle() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCycle
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle()
		}
	}
}

// Cycle runs one poll pass. Exported so the orchestrator can force an
// immediate health recomputation; the background loop calls it on every
// tick. A panicking health reporter aborts only the current cycle.
func (m *Monitor) Cycle() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health cycle panic", "panic", fmt.Sprint(r))
		}
	}()

	instances := m.instances.Instances()
	statuses := make([]subsystem.Status, 0, len(instances))

	for _, inst := range instances {
		if inst.Status() == subsystem.StatusActive {
			m.poll(inst)
		}
		statuses = append(statuses, inst.Status())
	}

	aggregate := Aggregate(statuses)

	m.mu.Lock()
	changed := aggregate != m.aggregate
	m.aggregate = aggregate
	m.lastCycle = time.Now()
	m.mu.Unlock()

	if changed {
		m.logger.Info("aggregate health changed", "status", aggregate.String())
	}
	if m.metrics != nil {
		m.metrics.Metrics.HealthCycles.Inc()
		m.metrics.Metrics.OverallHealth.Set(float64(aggregate))
	}
}

// poll merges one Active instance's self-reported counters and applies
// the demotion rule. Instances declared with Monitored false, and
// instances without a health reporter, only get their check time
// stamped; with no signal there is nothing to demote on.
func (m *Monitor) poll(inst *subsystem.Instance) {
	if !inst.Descriptor.Monitored {
		inst.TouchHealthCheck()
		return
	}
	reporter, ok := inst.Impl().(subsystem.HealthReporter)
	if !ok {
		inst.TouchHealthCheck()
		return
	}

	stats := reporter.HealthStats()
	inst.MergeHealthStats(stats)

	_, avg, errCount := inst.Counters()
	if errCount > m.cfg.ErrorHighWater || avg > m.cfg.LatencyCeiling {
		if inst.SetStatus(subsystem.StatusDegraded) {
			m.logger.Warn("subsystem demoted to degraded",
				"kind", inst.Descriptor.Kind,
				"error_count", errCount,
				"avg_response_time", avg)
			if m.metrics != nil {
				m.metrics.Metrics.RecordSubsystemStatus(
					inst.Descriptor.Kind.String(), int(subsystem.StatusDegraded))
			}
		}
	}
}
