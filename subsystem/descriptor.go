package subsystem

import (
	"fmt"
	"time"

	"github.com/agrisim/simkernel/errors"
)

// Priority bounds and the threshold above which a subsystem is considered
// foundational: persistent failure of a subsystem with priority at or
// above CriticalPriority is escalated to the operator log.
const (
	MinPriority      = 1
	MaxPriority      = 10
	CriticalPriority = 8
)

// Descriptor is the static declaration of a subsystem. Descriptors are
// created once at startup configuration time and never mutated.
type Descriptor struct {
	Kind         Kind   `json:"kind"`
	Name         string `json:"name"`
	Priority     int    `json:"priority"` // 1-10, higher starts earlier on ties
	Dependencies []Kind `json:"dependencies,omitempty"`

	// Resource budget hints, advisory only
	MaxMemoryMB     int `json:"max_memory_mb,omitempty"`
	MaxEventsPerSec int `json:"max_events_per_sec,omitempty"`

	// Opaque construction parameters passed to the factory
	Config map[string]any `json:"config,omitempty"`

	// HealthCheckInterval is advisory metadata; the health monitor runs
	// on its own global interval
	HealthCheckInterval time.Duration `json:"health_check_interval,omitempty"`
	Monitored           bool          `json:"monitored"`
}

// Critical reports whether failures of this subsystem are escalated
func (d Descriptor) Critical() bool {
	return d.Priority >= CriticalPriority
}

// DependsOn reports whether the descriptor declares kind as a dependency
func (d Descriptor) DependsOn(kind Kind) bool {
	for _, dep := range d.Dependencies {
		if dep == kind {
			return true
		}
	}
	return false
}

// Validate checks the descriptor for registration
func (d Descriptor) Validate() error {
	if !d.Kind.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownSubsystem, d.Kind),
			"Descriptor", "Validate", "kind validation")
	}
	if d.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Descriptor", "Validate", "name validation")
	}
	if d.Priority < MinPriority || d.Priority > MaxPriority {
		return errors.WrapInvalid(
			fmt.Errorf("priority %d outside range %d-%d", d.Priority, MinPriority, MaxPriority),
			"Descriptor", "Validate", "priority validation")
	}

	seen := make(map[Kind]struct{}, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if !dep.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("%w: dependency %q", errors.ErrUnknownSubsystem, dep),
				"Descriptor", "Validate", "dependency validation")
		}
		if _, dup := seen[dep]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate dependency %q", dep),
				"Descriptor", "Validate", "dependency validation")
		}
		seen[dep] = struct{}{}
	}
	// A self-dependency is accepted here; the resolver treats it as
	// permanently unmet and orders it through the deadlock fallback.
	return nil
}
