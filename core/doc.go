// Package core provides the foundational domain types, interfaces and
// coordination primitives used by ContextMesh. It defines the core
// abstractions for:
//
//   - AgentContext (versioned, causally tracked shared state snapshots)
//   - VectorClock (per-agent logical counters for causal ordering)
//   - Permissions and access conditions gating context visibility
//   - ContextUpdate / ContextConflict / ConsensusProposal records
//   - Pluggable stores for context snapshots and an injected Transport
//   - A best-effort EventBus for lifecycle observability
//   - A cancelable Scheduler owning periodic background tasks
//
// The package intentionally keeps implementation concerns (synchronization,
// aggregation, routing, concrete protocols) out of scope, exposing small
// interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core
