// Package health polls active subsystems for self-reported counters,
// demotes the ones running hot and maintains the kernel's aggregate
// health status.
package health

import "github.com/agrisim/simkernel/subsystem"

// Status is the aggregate health of the whole kernel
type Status int

const (
	// StatusUnhealthy means at least one subsystem is in Error
	StatusUnhealthy Status = iota
	// StatusDegraded means more than 20% of subsystems are Degraded
	StatusDegraded
	// StatusWarning is the residual state between Degraded and Healthy
	StatusWarning
	// StatusHealthy means at least 80% of subsystems are Active
	StatusHealthy
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusUnhealthy:
		return "unhealthy"
	case StatusDegraded:
		return "degraded"
	case StatusWarning:
		return "warning"
	case StatusHealthy:
		return "healthy"
	default:
		return "unknown"
	}
}

// Aggregate computes the kernel status from per-subsystem statuses:
// Unhealthy if any subsystem is Error, else Degraded if more than 20%
// are Degraded, else Healthy if at least 80% are Active, else Warning.
// An empty kernel is Healthy.
func Aggregate(statuses []subsystem.Status) Status {
	total := len(statuses)
	if total == 0 {
		return StatusHealthy
	}

	var active, degraded int
	for _, s := range statuses {
		switch s {
		case subsystem.StatusError:
			return StatusUnhealthy
		case subsystem.StatusActive:
			active++
		case subsystem.StatusDegraded:
			degraded++
		}
	}

	if degraded*5 > total { // more than 20%
		return StatusDegraded
	}
	if active*5 >= total*4 { // at least 80%
		return StatusHealthy
	}
	return StatusWarning
}
