package dataflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/pkg/buffer"
	"github.com/agrisim/simkernel/subsystem"
)

// Envelope is one queued message awaiting delivery. Priority is
// advisory metadata only; queues are drained in FIFO order.
type Envelope struct {
	ID          string         `json:"id"`
	Source      subsystem.Kind `json:"source"`
	Target      subsystem.Kind `json:"target"`
	MessageKind string         `json:"message_kind"`
	Payload     any            `json:"payload"`
	Priority    RoutePriority  `json:"priority"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// RouteChecker reports whether a (source, target, kind) triple has a
// declared route. Satisfied by *Router.
type RouteChecker interface {
	HasRoute(source, target subsystem.Kind, messageKind string) bool
}

// QueueSet holds one bounded FIFO buffer per target subsystem.
// Producers that cannot call the Router synchronously enqueue here and
// the coordination loop forwards to the delivery path. The route
// declaration is checked once at enqueue time, so the loop skips the
// lookup on drain. A full queue rejects immediately rather than
// blocking the producer.
type QueueSet struct {
	capacity int
	routes   RouteChecker
	metrics  *metric.Registry

	mu     sync.RWMutex
	queues map[subsystem.Kind]*buffer.Ring[Envelope]
}

// NewQueueSet creates an empty queue set with the given per-target
// capacity
func NewQueueSet(capacity int, routes RouteChecker, metrics *metric.Registry) *QueueSet {
	if capacity <= 0 {
		capacity = 256
	}
	return &QueueSet{
		capacity: capacity,
		routes:   routes,
		metrics:  metrics,
		queues:   make(map[subsystem.Kind]*buffer.Ring[Envelope]),
	}
}

// Enqueue appends a message to the target's FIFO buffer, creating the
// buffer on first use. Rejects undeclared triples with ErrNoRoute and
// fails fast with ErrQueueFull when the buffer is at capacity.
func (qs *QueueSet) Enqueue(source, target subsystem.Kind, messageKind string, payload any, priority RoutePriority) error {
	if !target.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownSubsystem, target),
			"dataflow", "Enqueue", "target validation")
	}
	if qs.routes == nil || !qs.routes.HasRoute(source, target, messageKind) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s->%s/%s", errors.ErrNoRoute, source, target, messageKind),
			"dataflow", "Enqueue", "route lookup")
	}

	env := Envelope{
		ID:          uuid.NewString(),
		Source:      source,
		Target:      target,
		MessageKind: messageKind,
		Payload:     payload,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
	}

	q := qs.queue(target)
	if err := q.Write(env); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: target %s at capacity %d", errors.ErrQueueFull, target, qs.capacity),
			"dataflow", "Enqueue", "buffer write")
	}

	if qs.metrics != nil {
		qs.metrics.Metrics.MessagesQueued.WithLabelValues(target.String()).Inc()
		qs.metrics.Metrics.QueueDepth.WithLabelValues(target.String()).Set(float64(q.Size()))
	}
	return nil
}

// DrainBatch removes up to max messages from the target's buffer in
// FIFO order
func (qs *QueueSet) DrainBatch(target subsystem.Kind, max int) []Envelope {
	qs.mu.RLock()
	q, ok := qs.queues[target]
	qs.mu.RUnlock()
	if !ok {
		return nil
	}

	batch := q.ReadBatch(max)
	if qs.metrics != nil && len(batch) > 0 {
		qs.metrics.Metrics.QueueDepth.WithLabelValues(target.String()).Set(float64(q.Size()))
	}
	return batch
}

// Depth returns the number of queued messages for a target
func (qs *QueueSet) Depth(target subsystem.Kind) int {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if q, ok := qs.queues[target]; ok {
		return q.Size()
	}
	return 0
}

// Targets returns every target with a queue, including drained ones
func (qs *QueueSet) Targets() []subsystem.Kind {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	out := make([]subsystem.Kind, 0, len(qs.queues))
	for target := range qs.queues {
		out = append(out, target)
	}
	return out
}

// queue returns the target's buffer, creating it on first use
func (qs *QueueSet) queue(target subsystem.Kind) *buffer.Ring[Envelope] {
	qs.mu.RLock()
	q, ok := qs.queues[target]
	qs.mu.RUnlock()
	if ok {
		return q
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()
	if q, ok := qs.queues[target]; ok {
		return q
	}
	q = buffer.NewRing[Envelope](qs.capacity, buffer.Reject)
	qs.queues[target] = q
	return q
}
