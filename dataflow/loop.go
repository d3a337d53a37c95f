package dataflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/metric"
)

// CoordinatorConfig tunes the queue-draining loop
type CoordinatorConfig struct {
	// Interval between drain cycles
	Interval time.Duration
	// BatchSize caps how many messages one cycle takes from each queue
	BatchSize int
}

// DefaultCoordinatorConfig returns working loop tunables
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Interval:  50 * time.Millisecond,
		BatchSize: 32,
	}
}

// Coordinator is the single background loop that drains per-target
// queues through the router's delivery path. Each cycle visits every
// queue and forwards a bounded batch, so one slow target cannot starve
// the others. Delivery failures are logged and dropped; the route
// declaration was already checked when the message was enqueued, and
// queued delivery is at-most-once.
type Coordinator struct {
	router  *Router
	queues  *QueueSet
	cfg     CoordinatorConfig
	logger  *slog.Logger
	metrics *metric.Registry

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCoordinator creates a coordination loop over a queue set
func NewCoordinator(router *Router, queues *QueueSet, cfg CoordinatorConfig, logger *slog.Logger, metrics *metric.Registry) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCoordinatorConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultCoordinatorConfig().BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		router:  router,
		queues:  queues,
		cfg:     cfg,
		logger:  logger.With("component", "coordinator"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the drain loop. Subsequent calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
		c.logger.Info("coordination loop started",
			"interval", c.cfg.Interval,
			"batch_size", c.cfg.BatchSize)
	})
}

// Stop signals the loop and waits for the in-flight cycle to finish,
// up to timeout
func (c *Coordinator) Stop(timeout time.Duration) {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done) // never started
			return
		}
		c.cancel()
		select {
		case <-c.done:
		case <-time.After(timeout):
			c.logger.Warn("coordination loop stop timed out", "timeout", timeout)
		}
	})
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle()
		}
	}
}

// cycle drains a bounded batch from every queue. A panic from a
// delivery hook aborts only the current cycle.
func (c *Coordinator) cycle() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("drain cycle panic", "panic", fmt.Sprint(r))
		}
	}()

	for _, target := range c.queues.Targets() {
		batch := c.queues.DrainBatch(target, c.cfg.BatchSize)
		for _, env := range batch {
			err := c.router.Deliver(env.Target, env.MessageKind, env.Payload)
			status := "delivered"
			if err != nil {
				status = "failed"
				c.logger.Warn("queued delivery failed",
					"target", env.Target,
					"message_kind", env.MessageKind,
					"envelope_id", env.ID,
					"error", err)
			}
			if c.metrics != nil {
				c.metrics.Metrics.MessagesDrained.WithLabelValues(env.Target.String(), status).Inc()
			}
		}
	}
}
