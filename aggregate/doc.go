// Package aggregate merges multiple agent context snapshots into a single
// consolidated context. Aggregation runs a fixed pipeline: filter stale
// inputs, detect field conflicts, resolve them through the conflict package,
// then merge the surviving fields with the configured strategy (union,
// intersection, weighted numeric merge, priority order, per-field majority or
// a caller-supplied function).
//
// Every aggregated context is stamped with a version one past the highest
// input version, a fresh modification time and the CRDT-style join of all
// input vector clocks.
package aggregate
