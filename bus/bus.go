// Package bus defines the shared event bus every subsystem is constructed
// against, with an in-process implementation for single-node simulations
// and a NATS-backed implementation for brokered deployments.
//
// The orchestrator uses the bus for two things: a coarse lifecycle event
// published once initialization completes, and fallback re-publication of
// routed payloads under "<target>_data_update" when a target subsystem
// exposes no direct delivery hook.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is the unit of publication on the bus
type Event struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID and timestamp
func NewEvent(subject string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Handler processes a delivered event. Handlers must not block for long;
// the in-process bus dispatches them on a bounded worker pool and the
// NATS bus on the client's callback goroutine.
type Handler func(Event)

// Bus is the pub/sub boundary between the orchestrator and subsystems
type Bus interface {
	// Publish delivers an event to all current subscribers of subject.
	// Delivery is asynchronous and at-most-once.
	Publish(subject string, payload any) error

	// Subscribe registers a handler for a subject. The returned function
	// removes the subscription.
	Subscribe(subject string, handler Handler) (func(), error)

	// Close shuts the bus down, waiting up to timeout for in-flight
	// deliveries.
	Close(timeout time.Duration) error
}

// DataUpdateSubject returns the fallback re-publication subject for a
// target subsystem identity
func DataUpdateSubject(target string) string {
	return target + "_data_update"
}
