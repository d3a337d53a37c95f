package subsystem

// Status is the lifecycle state of a subsystem instance.
//
// The machine is:
//
//	Inactive → Initializing → Active
//	Active ⇄ Degraded
//	{Initializing, Active, Degraded} → Error
//	Active|Degraded → Maintenance → Active|Error
//	any → Shutdown (terminal)
//
// Error is additionally re-enterable from Maintenance so a failed
// recovery attempt lands back in Error.
type Status int

const (
	// StatusInactive indicates the descriptor is registered but not yet constructed
	StatusInactive Status = iota
	// StatusInitializing indicates construction is in progress
	StatusInitializing
	// StatusActive indicates the subsystem is running normally
	StatusActive
	// StatusDegraded indicates sustained high error rate or latency
	StatusDegraded
	// StatusError indicates construction or runtime failure
	StatusError
	// StatusMaintenance indicates a recovery attempt is in progress
	StatusMaintenance
	// StatusShutdown is terminal
	StatusShutdown
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusInitializing:
		return "initializing"
	case StatusActive:
		return "active"
	case StatusDegraded:
		return "degraded"
	case StatusError:
		return "error"
	case StatusMaintenance:
		return "maintenance"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// validTransitions encodes the state machine edges
var validTransitions = map[Status][]Status{
	StatusInactive:     {StatusInitializing, StatusShutdown},
	StatusInitializing: {StatusActive, StatusError, StatusShutdown},
	StatusActive:       {StatusDegraded, StatusError, StatusMaintenance, StatusShutdown},
	StatusDegraded:     {StatusActive, StatusError, StatusMaintenance, StatusShutdown},
	StatusError:        {StatusMaintenance, StatusShutdown},
	StatusMaintenance:  {StatusActive, StatusError, StatusShutdown},
	StatusShutdown:     {},
}

// CanTransition reports whether moving from s to next is a legal edge
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	return s == StatusShutdown
}
