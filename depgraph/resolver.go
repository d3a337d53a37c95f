// Package depgraph computes the initialization order for a set of
// subsystem descriptors.
//
// The order is a topological sort over declared dependencies. Among
// descriptors whose dependencies are already ordered, the highest
// priority goes first, with kind name as a stable secondary key so the
// result is deterministic. A graph that deadlocks (cycle, self
// dependency, or dependency on a kind absent from the set) does not fail
// resolution: the highest-priority remaining descriptor is ordered
// anyway with a warning, and resolution continues. Callers therefore
// tolerate a dependency instance being absent at construction time.
package depgraph

import (
	"log/slog"
	"sort"

	"github.com/agrisim/simkernel/subsystem"
)

// Resolver turns a descriptor set into a total initialization order
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger.With("component", "depgraph")}
}

// Resolve returns every input descriptor exactly once, each after all
// of its declared dependencies whenever the graph permits. Resolve
// always terminates, even on cyclic or incomplete graphs.
func (r *Resolver) Resolve(descriptors []subsystem.Descriptor) []subsystem.Descriptor {
	if len(descriptors) == 0 {
		return nil
	}

	remaining := make(map[subsystem.Kind]subsystem.Descriptor, len(descriptors))
	for _, d := range descriptors {
		remaining[d.Kind] = d
	}

	order := make([]subsystem.Descriptor, 0, len(descriptors))
	ordered := make(map[subsystem.Kind]struct{}, len(descriptors))

	for len(remaining) > 0 {
		ready := pick(remaining, func(d subsystem.Descriptor) bool {
			return satisfied(d, ordered)
		})

		if ready == nil {
			// Deadlock: no remaining descriptor has all dependencies
			// ordered. Force the highest-priority one through and let
			// construction proceed with an absent dependency handle.
			forced := pick(remaining, func(subsystem.Descriptor) bool { return true })
			r.logger.Warn("dependency deadlock, forcing initialization order",
				"kind", forced.Kind,
				"priority", forced.Priority,
				"unmet", unmet(*forced, ordered))
			ready = forced
		}

		order = append(order, *ready)
		ordered[ready.Kind] = struct{}{}
		delete(remaining, ready.Kind)
	}

	return order
}

// Validate reports the dependency problems Resolve would work around:
// dependencies on kinds absent from the set, and cycles. A nil return
// means Resolve will produce a clean topological order.
func (r *Resolver) Validate(descriptors []subsystem.Descriptor) []Problem {
	present := make(map[subsystem.Kind]struct{}, len(descriptors))
	for _, d := range descriptors {
		present[d.Kind] = struct{}{}
	}

	var problems []Problem
	for _, d := range descriptors {
		for _, dep := range d.Dependencies {
			if dep == d.Kind {
				problems = append(problems, Problem{Kind: d.Kind, Dependency: dep, Reason: "self dependency"})
				continue
			}
			if _, ok := present[dep]; !ok {
				problems = append(problems, Problem{Kind: d.Kind, Dependency: dep, Reason: "dependency not in descriptor set"})
			}
		}
	}

	for _, kind := range findCycle(descriptors) {
		problems = append(problems, Problem{Kind: kind, Reason: "member of a dependency cycle"})
	}

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].Kind != problems[j].Kind {
			return problems[i].Kind < problems[j].Kind
		}
		return problems[i].Dependency < problems[j].Dependency
	})
	return problems
}

// Problem describes one dependency defect found by Validate
type Problem struct {
	Kind       subsystem.Kind `json:"kind"`
	Dependency subsystem.Kind `json:"dependency,omitempty"`
	Reason     string         `json:"reason"`
}

// satisfied reports whether all of d's dependencies are already ordered
func satisfied(d subsystem.Descriptor, ordered map[subsystem.Kind]struct{}) bool {
	for _, dep := range d.Dependencies {
		if _, ok := ordered[dep]; !ok {
			return false
		}
	}
	return true
}

// unmet lists d's dependencies that are not yet ordered
func unmet(d subsystem.Descriptor, ordered map[subsystem.Kind]struct{}) []string {
	var out []string
	for _, dep := range d.Dependencies {
		if _, ok := ordered[dep]; !ok {
			out = append(out, dep.String())
		}
	}
	return out
}

// pick returns the eligible descriptor with the highest priority,
// breaking ties by kind name, or nil when none is eligible
func pick(remaining map[subsystem.Kind]subsystem.Descriptor, eligible func(subsystem.Descriptor) bool) *subsystem.Descriptor {
	var best *subsystem.Descriptor
	for _, d := range remaining {
		if !eligible(d) {
			continue
		}
		if best == nil ||
			d.Priority > best.Priority ||
			(d.Priority == best.Priority && d.Kind < best.Kind) {
			candidate := d
			best = &candidate
		}
	}
	return best
}

// findCycle returns the kinds reachable only through a cycle, using
// iterative dependency-count trimming
func findCycle(descriptors []subsystem.Descriptor) []subsystem.Kind {
	present := make(map[subsystem.Kind]subsystem.Descriptor, len(descriptors))
	for _, d := range descriptors {
		present[d.Kind] = d
	}

	resolved := make(map[subsystem.Kind]struct{})
	for changed := true; changed; {
		changed = false
		for kind, d := range present {
			if _, done := resolved[kind]; done {
				continue
			}
			ok := true
			for _, dep := range d.Dependencies {
				if dep == kind {
					ok = false
					break
				}
				if _, external := present[dep]; !external {
					continue // missing deps are reported separately
				}
				if _, done := resolved[dep]; !done {
					ok = false
					break
				}
			}
			if ok {
				resolved[kind] = struct{}{}
				changed = true
			}
		}
	}

	var stuck []subsystem.Kind
	for kind, d := range present {
		if _, done := resolved[kind]; done {
			continue
		}
		if d.DependsOn(kind) {
			continue // self dependency is reported separately
		}
		stuck = append(stuck, kind)
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
	return stuck
}
