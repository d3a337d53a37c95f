package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/pkg/retry"
)

// NATSConfig configures the NATS-backed bus
type NATSConfig struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	MaxReconnects  int // -1 for infinite
	ReconnectWait  time.Duration
	DrainTimeout   time.Duration
}

// DefaultNATSConfig returns defaults for a local broker
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "simkernel",
		ConnectTimeout: 5 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		DrainTimeout:   10 * time.Second,
	}
}

// NATSBus is a Bus backed by a NATS connection. Used when subsystems run
// behind a broker rather than in-process; the orchestrator's semantics
// are identical to the in-process bus (asynchronous, at-most-once).
type NATSBus struct {
	cfg     NATSConfig
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metric.Metrics

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NATSOption configures a NATSBus
type NATSOption func(*NATSBus)

// WithNATSLogger sets the logger for the NATS bus
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(b *NATSBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNATSMetrics wires bus counters into the metrics registry
func WithNATSMetrics(registry *metric.Registry) NATSOption {
	return func(b *NATSBus) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// ConnectNATS establishes a connection with startup retries and returns the bus
func ConnectNATS(ctx context.Context, cfg NATSConfig, opts ...NATSOption) (*NATSBus, error) {
	b := &NATSBus{
		cfg:    cfg,
		logger: slog.Default().With("component", "nats-bus"),
	}
	for _, opt := range opts {
		opt(b)
	}

	natsOpts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("disconnected from broker", "error", err)
			if b.metrics != nil {
				b.metrics.BusConnected.Set(0)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("reconnected to broker", "url", nc.ConnectedUrl())
			if b.metrics != nil {
				b.metrics.BusConnected.Set(1)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Info("broker connection closed")
		}),
	}

	conn, err := retry.DoWithResult(ctx, errors.DefaultRetryConfig().ToRetryConfig(),
		func() (*nats.Conn, error) {
			return nats.Connect(cfg.URL, natsOpts...)
		})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBus", "ConnectNATS", "broker connect")
	}

	b.conn = conn
	if b.metrics != nil {
		b.metrics.BusConnected.Set(1)
	}
	return b, nil
}

// Publish delivers an event to all subscribers of subject via the broker
func (b *NATSBus) Publish(subject string, payload any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.WrapInvalid(errors.ErrBusClosed, "NATSBus", "Publish", "bus state check")
	}

	event := NewEvent(subject, payload)
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Publish", "event encoding")
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "NATSBus", "Publish", "broker publish")
	}

	if b.metrics != nil {
		b.metrics.BusPublished.WithLabelValues(subject).Inc()
	}
	return nil
}

// Subscribe registers a handler for a subject
func (b *NATSBus) Subscribe(subject string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSBus", "Subscribe", "handler validation")
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBus", "Subscribe", "broker subscribe")
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "subject", subject, "error", err)
		}
	}
	return unsubscribe, nil
}

// Close drains the connection, waiting up to timeout for in-flight messages
func (b *NATSBus) Close(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusConnected.Set(0)
	}

	drainTimeout := b.cfg.DrainTimeout
	if timeout > 0 && timeout < drainTimeout {
		drainTimeout = timeout
	}

	done := make(chan error, 1)
	go func() {
		done <- b.conn.Drain()
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.WrapTransient(err, "NATSBus", "Close", "connection drain")
		}
		return nil
	case <-time.After(drainTimeout):
		b.conn.Close()
		return errors.WrapTransient(errors.ErrNoConnection, "NATSBus", "Close", "drain timeout")
	}
}

// Connected reports whether the underlying connection is currently up
func (b *NATSBus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}
