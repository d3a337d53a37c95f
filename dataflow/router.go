package dataflow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrisim/simkernel/bus"
	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/subsystem"
)

// InstanceSource resolves a subsystem kind to its runtime record. The
// lifecycle manager satisfies it.
type InstanceSource interface {
	Instance(kind subsystem.Kind) (*subsystem.Instance, bool)
}

// Router moves payloads between subsystems along declared routes.
//
// Route performs no retries and no internal queuing: a call blocks only
// for the duration of the target's delivery hook, and any failure comes
// back to the caller as a typed error. Producers that cannot tolerate
// synchronous delivery enqueue through a QueueSet instead.
type Router struct {
	instances InstanceSource
	eventBus  bus.Bus
	logger    *slog.Logger
	metrics   *metric.Registry

	mu     sync.RWMutex
	routes map[key]*routeState
}

// NewRouter creates a router
func NewRouter(instances InstanceSource, eventBus bus.Bus, logger *slog.Logger, metrics *metric.Registry) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		instances: instances,
		eventBus:  eventBus,
		logger:    logger.With("component", "router"),
		metrics:   metrics,
		routes:    make(map[key]*routeState),
	}
}

// Declare installs a route. Declaring the same (source, target,
// message-kind) triple again replaces the previous declaration and
// resets its counters.
func (r *Router) Declare(route Route) error {
	if err := validateRoute(route); err != nil {
		return err
	}

	k := key{route.Source, route.Target, route.MessageKind}
	r.mu.Lock()
	_, replaced := r.routes[k]
	r.routes[k] = newRouteState(route)
	r.mu.Unlock()

	r.logger.Debug("route declared",
		"route", k.String(),
		"priority", route.Priority.String(),
		"replaced", replaced)
	return nil
}

// SetEnabled flips a declared route without touching its counters
func (r *Router) SetEnabled(source, target subsystem.Kind, messageKind string, enabled bool) error {
	r.mu.RLock()
	rs, ok := r.routes[key{source, target, messageKind}]
	r.mu.RUnlock()
	if !ok {
		return errors.Wrap(errors.ErrNoRoute, "dataflow", "SetEnabled", "route lookup")
	}

	rs.mu.Lock()
	rs.route.Enabled = enabled
	rs.mu.Unlock()
	return nil
}

// Route sends payload from source to target under messageKind.
//
// The pipeline is: route lookup, enabled check, rate limit, transform,
// validate, deliver. A missing route leaves every counter untouched;
// every later failure increments the route's error counter. Latency and
// the processed counter are recorded only for delivered payloads.
func (r *Router) Route(source, target subsystem.Kind, messageKind string, payload any) error {
	r.mu.RLock()
	rs, ok := r.routes[key{source, target, messageKind}]
	r.mu.RUnlock()
	if !ok {
		return errors.Wrap(
			fmt.Errorf("%w: %s->%s/%s", errors.ErrNoRoute, source, target, messageKind),
			"dataflow", "Route", "route lookup")
	}

	rs.mu.Lock()
	enabled := rs.route.Enabled
	rs.mu.Unlock()
	if !enabled {
		return r.fail(rs, errors.Wrap(errors.ErrRouteDisabled, "dataflow", "Route", "enabled check"), "disabled")
	}

	if rs.limiter != nil && !rs.limiter.Allow() {
		return r.fail(rs, errors.WrapTransient(errors.ErrRateLimited, "dataflow", "Route", "rate limit"), "rate_limited")
	}

	if rs.route.Transform != nil {
		payload = rs.route.Transform(payload)
	}
	if rs.route.Validate != nil && !rs.route.Validate(payload) {
		return r.fail(rs, errors.WrapInvalid(errors.ErrValidationFailed, "dataflow", "Route", "validate hook"), "validation_failed")
	}

	started := time.Now()
	if err := r.deliver(target, messageKind, payload); err != nil {
		return r.fail(rs, err, "delivery_failed")
	}
	latency := time.Since(started)

	rs.recordSuccess(latency)
	if inst, ok := r.instances.Instance(target); ok {
		inst.RecordEvent(latency)
	}
	if r.metrics != nil {
		r.metrics.Metrics.RecordRoute(source.String(), target.String(), latency, nil)
	}
	return nil
}

// Deliver pushes a payload straight to the target's delivery surface,
// bypassing route lookup, rate limiting and hooks. The coordination
// loop uses it for queued messages, whose route checks ran at enqueue
// time.
func (r *Router) Deliver(target subsystem.Kind, messageKind string, payload any) error {
	return r.deliver(target, messageKind, payload)
}

// deliver invokes exactly one delivery surface: the external-data
// handler when present, otherwise the generic data receiver, otherwise
// re-publication on the bus under "<target>_data_update".
func (r *Router) deliver(target subsystem.Kind, messageKind string, payload any) error {
	inst, ok := r.instances.Instance(target)
	if !ok || inst.Status() != subsystem.StatusActive {
		return errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrTargetUnavailable, target),
			"dataflow", "deliver", "target status check")
	}

	impl := inst.Impl()
	switch handler := impl.(type) {
	case subsystem.ExternalDataHandler:
		if err := handler.HandleExternalData(messageKind, payload); err != nil {
			return errors.Wrap(err, "dataflow", "deliver", "external data handler")
		}
	case subsystem.DataReceiver:
		if err := handler.ReceiveData(messageKind, payload); err != nil {
			return errors.Wrap(err, "dataflow", "deliver", "data receiver")
		}
	default:
		if r.eventBus == nil {
			return errors.Wrap(
				fmt.Errorf("%w: no delivery surface and no bus", errors.ErrTargetUnavailable),
				"dataflow", "deliver", "fallback publish")
		}
		if err := r.eventBus.Publish(bus.DataUpdateSubject(target.String()), payload); err != nil {
			return errors.Wrap(err, "dataflow", "deliver", "fallback publish")
		}
	}
	return nil
}

// fail records a route error and passes the typed error back
func (r *Router) fail(rs *routeState, err error, reason string) error {
	rs.recordError()
	if r.metrics != nil {
		r.metrics.Metrics.RecordRouteError(rs.route.Source.String(), rs.route.Target.String(), reason)
	}
	return err
}

// Stats returns the snapshot of every declared route
func (r *Router) Stats() []RouteStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteStats, 0, len(r.routes))
	for _, rs := range r.routes {
		out = append(out, rs.stats())
	}
	return out
}

// RouteStats returns the snapshot of a single route
func (r *Router) RouteStats(source, target subsystem.Kind, messageKind string) (RouteStats, bool) {
	r.mu.RLock()
	rs, ok := r.routes[key{source, target, messageKind}]
	r.mu.RUnlock()
	if !ok {
		return RouteStats{}, false
	}
	return rs.stats(), true
}

// HasRoute reports whether the triple is declared
func (r *Router) HasRoute(source, target subsystem.Kind, messageKind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[key{source, target, messageKind}]
	return ok
}
