// Package dataflow routes typed payloads between subsystems and drains
// per-target FIFO queues on a background coordination loop.
package dataflow

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/subsystem"
)

// RoutePriority is advisory metadata carried for observability. Queues
// stay FIFO; priority never reorders delivery.
type RoutePriority int

const (
	// PriorityBackground is the lowest advisory priority
	PriorityBackground RoutePriority = iota
	// PriorityLow is below-normal advisory priority
	PriorityLow
	// PriorityNormal is the default advisory priority
	PriorityNormal
	// PriorityHigh is above-normal advisory priority
	PriorityHigh
	// PriorityCritical is the highest advisory priority
	PriorityCritical
)

// String returns the string representation of the priority
func (p RoutePriority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TransformFunc rewrites a payload before validation and delivery
type TransformFunc func(payload any) any

// ValidateFunc accepts or rejects a payload after transformation. A
// false result stops the call before any delivery side effect.
type ValidateFunc func(payload any) bool

// Route declares one (source, target, message-kind) data flow
type Route struct {
	Source      subsystem.Kind
	Target      subsystem.Kind
	MessageKind string
	Priority    RoutePriority

	// Optional hooks
	Transform TransformFunc
	Validate  ValidateFunc

	// MaxPerSecond caps route throughput; zero means unlimited. Calls
	// over the limit are rejected, not queued.
	MaxPerSecond float64
	Burst        int

	Enabled bool
}

// key identifies a route; one route per triple
type key struct {
	source subsystem.Kind
	target subsystem.Kind
	kind   string
}

func (k key) String() string {
	return fmt.Sprintf("%s->%s/%s", k.source, k.target, k.kind)
}

// routeState is a declared route plus its runtime counters
type routeState struct {
	route   Route
	limiter *rate.Limiter // nil when unlimited

	mu         sync.Mutex
	processed  int64
	errors     int64
	avgLatency time.Duration
}

func newRouteState(r Route) *routeState {
	rs := &routeState{route: r}
	if r.MaxPerSecond > 0 {
		burst := r.Burst
		if burst <= 0 {
			burst = 1
		}
		rs.limiter = rate.NewLimiter(rate.Limit(r.MaxPerSecond), burst)
	}
	return rs
}

// recordSuccess folds one delivery latency into the rolling average
// using new_avg = (old_avg*(n-1) + sample) / n
func (rs *routeState) recordSuccess(latency time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.processed++
	n := rs.processed
	rs.avgLatency = time.Duration((int64(rs.avgLatency)*(n-1) + int64(latency)) / n)
}

func (rs *routeState) recordError() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errors++
}

// RouteStats is the read-only snapshot of one route
type RouteStats struct {
	Source      subsystem.Kind `json:"source"`
	Target      subsystem.Kind `json:"target"`
	MessageKind string         `json:"message_kind"`
	Priority    string         `json:"priority"`
	Enabled     bool           `json:"enabled"`
	Processed   int64          `json:"processed"`
	Errors      int64          `json:"errors"`
	AvgLatency  time.Duration  `json:"avg_latency"`
}

func (rs *routeState) stats() RouteStats {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return RouteStats{
		Source:      rs.route.Source,
		Target:      rs.route.Target,
		MessageKind: rs.route.MessageKind,
		Priority:    rs.route.Priority.String(),
		Enabled:     rs.route.Enabled,
		Processed:   rs.processed,
		Errors:      rs.errors,
		AvgLatency:  rs.avgLatency,
	}
}

// validateRoute checks a route declaration
func validateRoute(r Route) error {
	if !r.Source.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: source %q", errors.ErrUnknownSubsystem, r.Source),
			"dataflow", "validateRoute", "source validation")
	}
	if !r.Target.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: target %q", errors.ErrUnknownSubsystem, r.Target),
			"dataflow", "validateRoute", "target validation")
	}
	if r.MessageKind == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty message kind", errors.ErrInvalidConfig),
			"dataflow", "validateRoute", "message kind validation")
	}
	if r.MaxPerSecond < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: negative rate limit", errors.ErrInvalidConfig),
			"dataflow", "validateRoute", "rate limit validation")
	}
	return nil
}
