// Package syncer propagates context updates between agents and tracks
// per-agent synchronization health. It supports three modes: realtime (push
// to every shared peer immediately), eventual (enqueue and drain on a
// background schedule) and manual (no automatic propagation).
//
// Partition handling is caller-driven: HandlePartition forces affected agents
// into manual mode and marks them unhealthy; RecoverFromPartition merges
// divergent state by version (higher wins) and reconciles vector clocks with
// a per-agent-id maximum across all merging clocks. The periodic health sweep
// only signals degradation, it never declares partitions on its own.
//
// Propagation is a logical handoff to an injected core.Transport; per-peer
// delivery failures are logged and collected but never block other peers.
package syncer
