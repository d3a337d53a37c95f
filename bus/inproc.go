package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/pkg/worker"
)

// InProcConfig configures the in-process bus
type InProcConfig struct {
	DispatchWorkers int // goroutines draining the dispatch queue
	DispatchQueue   int // bounded dispatch queue size
}

// DefaultInProcConfig returns defaults suitable for a single simulation node
func DefaultInProcConfig() InProcConfig {
	return InProcConfig{
		DispatchWorkers: 4,
		DispatchQueue:   4096,
	}
}

// delivery pairs an event with one subscriber handler
type delivery struct {
	event   Event
	handler Handler
}

// InProc is an in-memory Bus. Publishers never run subscriber handlers
// inline; every delivery goes through a bounded worker pool so a slow
// subscriber cannot stall a publisher.
type InProc struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]Handler
	nextID      int
	closed      bool

	pool    *worker.Pool[delivery]
	logger  *slog.Logger
	metrics *metric.Metrics
}

// InProcOption configures an InProc bus
type InProcOption func(*InProc)

// WithLogger sets the logger for the in-process bus
func WithLogger(logger *slog.Logger) InProcOption {
	return func(b *InProc) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics wires bus publication counters into the metrics registry
func WithMetrics(registry *metric.Registry) InProcOption {
	return func(b *InProc) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// NewInProc creates and starts an in-process bus
func NewInProc(cfg InProcConfig, opts ...InProcOption) *InProc {
	b := &InProc{
		subscribers: make(map[string]map[int]Handler),
		logger:      slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.pool = worker.NewPool(cfg.DispatchWorkers, cfg.DispatchQueue, b.dispatch)

	// Pool start cannot fail on a fresh pool
	_ = b.pool.Start(context.Background())

	if b.metrics != nil {
		b.metrics.BusConnected.Set(1)
	}
	return b
}

// dispatch invokes one subscriber handler, containing panics
func (b *InProc) dispatch(_ context.Context, d delivery) error {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber handler panicked",
				"subject", d.event.Subject, "panic", r)
		}
	}()
	d.handler(d.event)
	return nil
}

// Publish delivers an event to all current subscribers of subject
func (b *InProc) Publish(subject string, payload any) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.WrapInvalid(errors.ErrBusClosed, "InProc", "Publish", "bus state check")
	}
	handlers := make([]Handler, 0, len(b.subscribers[subject]))
	for _, h := range b.subscribers[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	event := NewEvent(subject, payload)
	for _, h := range handlers {
		if err := b.pool.Submit(delivery{event: event, handler: h}); err != nil {
			b.logger.Warn("dropping event, dispatch queue full",
				"subject", subject, "event_id", event.ID)
			return errors.WrapTransient(errors.ErrPublishFailed, "InProc", "Publish", "dispatch submit")
		}
	}

	if b.metrics != nil {
		b.metrics.BusPublished.WithLabelValues(subject).Inc()
	}
	return nil
}

// Subscribe registers a handler for exact-match subject delivery
func (b *InProc) Subscribe(subject string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "InProc", "Subscribe", "handler validation")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.WrapInvalid(errors.ErrBusClosed, "InProc", "Subscribe", "bus state check")
	}

	if b.subscribers[subject] == nil {
		b.subscribers[subject] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[subject][id] = handler

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[subject], id)
		if len(b.subscribers[subject]) == 0 {
			delete(b.subscribers, subject)
		}
	}
	return unsubscribe, nil
}

// Close stops the dispatch pool, waiting up to timeout for in-flight work
func (b *InProc) Close(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[string]map[int]Handler)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusConnected.Set(0)
	}

	if err := b.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "InProc", "Close", "dispatch pool stop")
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions for subject
func (b *InProc) SubscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[subject])
}
