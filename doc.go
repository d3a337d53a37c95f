// Package simkernel is the subsystem orchestrator for the agrisim platform.
//
// An agrisim deployment is built from many independently developed
// subsystems (economy, crop growth, employee AI, disease and pest models,
// research trees, environmental monitoring, and so on), each with its own
// lifecycle and data needs. simkernel is the piece that holds them
// together without knowing anything about their internals:
//
//   - subsystem: descriptors, the factory registry, and the capability
//     contract every subsystem is integrated through
//   - depgraph: dependency-ordered startup with a deterministic
//     deadlock fallback for misconfigured graphs
//   - lifecycle: ordered construction, status tracking, and
//     reverse-order shutdown
//   - dataflow: declared routes between subsystems with transform,
//     validation and rate-limit policy, plus per-target queues drained
//     by a coordination loop
//   - health: background health polling with automatic demotion of
//     degraded subsystems
//   - recovery: bounded automatic restart of failed subsystems
//   - orchestrator: the top-level value wiring all of the above
//   - service: a read-only HTTP status API over the orchestrator
//     (snapshot, health probe, Prometheus metrics)
//
// Subsystems communicate through declared routes and through the shared
// event bus (package bus). The orchestrator never executes domain
// simulation logic itself; it only registers, orders, starts, monitors,
// routes between, recovers and stops the subsystems it was given.
//
// # Design principles
//
// Partial startup is a normal outcome: a subsystem that fails to
// construct is recorded in Error status and the rest of the platform
// keeps running. Errors never cross the orchestrator boundary as panics;
// they become status transitions and typed results. All shared state is
// guarded by one coordination lock owned by the lifecycle manager, so a
// status snapshot is never torn.
package simkernel
