package subsystem

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrisim/simkernel/errors"
	"github.com/agrisim/simkernel/pkg/buffer"
)

// ErrorHistoryLimit bounds the per-instance error ring
const ErrorHistoryLimit = 50

// ErrorRecord is one entry in an instance's bounded error history
type ErrorRecord struct {
	ID       string          `json:"id"`
	Severity errors.Severity `json:"severity"`
	Message  string          `json:"message"`
	At       time.Time       `json:"at"`
}

// Instance is the runtime record for an activated descriptor. There is
// exactly one Instance per descriptor submitted to the lifecycle manager,
// and it is never removed mid-run: failed subsystems stay present in
// Error status for observability.
//
// The lifecycle manager owns status transitions; counters are updated in
// small instance-local critical sections by the router, the health
// monitor and the instance itself.
type Instance struct {
	// Immutable after creation
	Descriptor Descriptor
	StartOrder int // realized creation order, -1 until constructed

	mu              sync.RWMutex
	impl            Subsystem
	status          Status
	initializedAt   time.Time
	lastHealthCheck time.Time

	eventsProcessed int64
	avgResponse     time.Duration
	errorCount      int
	memoryUsage     int64
	lastError       string
	lastErrorAt     time.Time
	history         *buffer.Ring[ErrorRecord]
}

// NewInstance creates an Inactive instance for a descriptor
func NewInstance(desc Descriptor) *Instance {
	return &Instance{
		Descriptor: desc,
		StartOrder: -1,
		status:     StatusInactive,
		history:    buffer.NewRing[ErrorRecord](ErrorHistoryLimit, buffer.DropOldest),
	}
}

// Impl returns the wrapped subsystem, nil until construction succeeds
func (in *Instance) Impl() Subsystem {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.impl
}

// SetImpl installs the constructed subsystem and stamps the init time
func (in *Instance) SetImpl(s Subsystem) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.impl = s
	in.initializedAt = time.Now()
}

// Status returns the current lifecycle status
func (in *Instance) Status() Status {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.status
}

// SetStatus transitions to next if legal. Returns false if the edge is
// not part of the state machine; the status is then left unchanged.
func (in *Instance) SetStatus(next Status) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status == next {
		return true
	}
	if !in.status.CanTransition(next) {
		return false
	}
	in.status = next
	return true
}

// RecordError appends to the bounded error history and updates the
// last-error fields. Returns the record's generated ID.
func (in *Instance) RecordError(err error, severity errors.Severity) string {
	rec := ErrorRecord{
		ID:       uuid.NewString(),
		Severity: severity,
		Message:  err.Error(),
		At:       time.Now(),
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.errorCount++
	in.lastError = rec.Message
	in.lastErrorAt = rec.At
	_ = in.history.Write(rec) // DropOldest never fails
	return rec.ID
}

// RecordEvent folds one processed event into the rolling counters using
// new_avg = (old_avg*(n-1) + sample) / n.
func (in *Instance) RecordEvent(latency time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.eventsProcessed++
	n := in.eventsProcessed
	in.avgResponse = time.Duration((int64(in.avgResponse)*(n-1) + int64(latency)) / n)
}

// MergeHealthStats folds a self-reported health sample into the record
// and stamps the health-check time
func (in *Instance) MergeHealthStats(stats HealthStats) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.eventsProcessed = stats.EventsProcessed
	in.avgResponse = stats.AvgResponseTime
	if stats.ErrorCount > in.errorCount {
		in.errorCount = stats.ErrorCount
	}
	in.memoryUsage = stats.MemoryUsage
	in.lastHealthCheck = time.Now()
}

// TouchHealthCheck stamps the health-check time without merging counters.
// Used for subsystems that expose no health reporter.
func (in *Instance) TouchHealthCheck() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastHealthCheck = time.Now()
}

// View is the read-only snapshot of an instance
type View struct {
	Kind            Kind          `json:"kind"`
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	StartOrder      int           `json:"start_order"`
	InitializedAt   time.Time     `json:"initialized_at,omitzero"`
	LastHealthCheck time.Time     `json:"last_health_check,omitzero"`
	EventsProcessed int64         `json:"events_processed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ErrorCount      int           `json:"error_count"`
	MemoryUsage     int64         `json:"memory_usage"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorAt     time.Time     `json:"last_error_at,omitzero"`
	RecentErrors    []ErrorRecord `json:"recent_errors,omitempty"`
}

// Snapshot returns a consistent copy of the instance's observable state
func (in *Instance) Snapshot() View {
	in.mu.RLock()
	defer in.mu.RUnlock()

	return View{
		Kind:            in.Descriptor.Kind,
		Name:            in.Descriptor.Name,
		Status:          in.status.String(),
		StartOrder:      in.StartOrder,
		InitializedAt:   in.initializedAt,
		LastHealthCheck: in.lastHealthCheck,
		EventsProcessed: in.eventsProcessed,
		AvgResponseTime: in.avgResponse,
		ErrorCount:      in.errorCount,
		MemoryUsage:     in.memoryUsage,
		LastError:       in.lastError,
		LastErrorAt:     in.lastErrorAt,
		RecentErrors:    in.history.Snapshot(),
	}
}

// Counters returns the current rolling counters
func (in *Instance) Counters() (events int64, avg time.Duration, errCount int) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.eventsProcessed, in.avgResponse, in.errorCount
}
