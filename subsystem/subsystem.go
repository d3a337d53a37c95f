package subsystem

import (
	"log/slog"
	"time"

	"github.com/agrisim/simkernel/bus"
	"github.com/agrisim/simkernel/metric"
)

// Subsystem is the minimal interface every integrated subsystem satisfies.
// Everything else is optional capability, discovered by interface assertion
// (see ExternalDataHandler, DataReceiver, HealthReporter, Closer).
type Subsystem interface {
	// Meta returns basic subsystem information
	Meta() Metadata
}

// Metadata describes what a subsystem is
type Metadata struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ExternalDataHandler is the preferred delivery surface for routed data.
// The router calls it before falling back to DataReceiver or bus
// re-publication.
type ExternalDataHandler interface {
	HandleExternalData(messageKind string, payload any) error
}

// DataReceiver is the generic delivery surface for routed data, used when
// a subsystem does not implement ExternalDataHandler.
type DataReceiver interface {
	ReceiveData(messageKind string, payload any) error
}

// HealthReporter exposes self-reported health counters. Subsystems that
// do not implement it are never demoted by the health monitor; there is
// no signal to demote on.
type HealthReporter interface {
	HealthStats() HealthStats
}

// Closer is the optional teardown hook invoked during ordered shutdown
type Closer interface {
	Close() error
}

// HealthStats are the counters a subsystem self-reports on each poll
type HealthStats struct {
	EventsProcessed int64         `json:"events_processed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ErrorCount      int           `json:"error_count"`
	MemoryUsage     int64         `json:"memory_usage"`
}

// Dependencies provides all external collaborators a factory may need.
// Handles carries the already-running dependency instances resolved by
// the lifecycle manager; injection is best-effort, so a declared
// dependency may be absent from the map and factories must tolerate that.
type Dependencies struct {
	Bus     bus.Bus
	Logger  *slog.Logger
	Metrics *metric.Registry
	Config  map[string]any
	Handles map[Kind]Subsystem
}

// GetLogger returns the configured logger or the process default
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithKind returns a logger scoped to a subsystem identity
func (d *Dependencies) GetLoggerWithKind(kind Kind) *slog.Logger {
	return d.GetLogger().With("subsystem", kind.String())
}

// Handle returns the resolved dependency instance for kind, if available
func (d *Dependencies) Handle(kind Kind) (Subsystem, bool) {
	s, ok := d.Handles[kind]
	return s, ok
}

// Factory constructs a subsystem from its dependencies. Factories parse
// their own config from deps.Config and must not start background work;
// a factory that returns an error (or panics) leaves its descriptor in
// Error status without affecting the rest of initialization.
type Factory func(deps Dependencies) (Subsystem, error)
