package subsystem

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agrisim/simkernel/errors"
)

// Registry holds descriptors and factories keyed by kind. Registration
// is append-only: a kind can be registered once and is never removed.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[Kind]Descriptor
	factories   map[Kind]Factory
	logger      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		descriptors: make(map[Kind]Descriptor),
		factories:   make(map[Kind]Factory),
		logger:      logger.With("component", "registry"),
	}
}

// Register stores a descriptor and its factory. The descriptor is
// validated first; a second registration under the same kind is
// rejected rather than replaced.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if err := desc.Validate(); err != nil {
		return errors.Wrap(err, "registry", "Register", "validate descriptor")
	}
	if factory == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil factory for %s", errors.ErrInvalidConfig, desc.Kind),
			"registry", "Register", "validate factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[desc.Kind]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateSubsystem, desc.Kind),
			"registry", "Register", "check duplicate")
	}

	r.descriptors[desc.Kind] = desc
	r.factories[desc.Kind] = factory

	r.logger.Debug("subsystem registered",
		"kind", desc.Kind,
		"priority", desc.Priority,
		"dependencies", len(desc.Dependencies))
	return nil
}

// Descriptor returns the descriptor for a kind
func (r *Registry) Descriptor(kind Kind) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[kind]
	return d, ok
}

// Factory returns the factory for a kind
func (r *Registry) Factory(kind Kind) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Descriptors returns a copy of all registered descriptors
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// Kinds returns all registered kinds
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.descriptors))
	for k := range r.descriptors {
		out = append(out, k)
	}
	return out
}

// Len returns the number of registered kinds
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
