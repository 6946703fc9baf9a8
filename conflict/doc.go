// Package conflict detects and resolves divergent field values across agent
// context snapshots. It provides:
//
//   - Value-level conflict detection over materialized fields (detection is
//     not clock-causal; callers needing causal precedence additionally
//     compare vector clocks)
//   - Deterministic resolution strategies (writer order, priority, structural
//     merge, majority consensus, manual queue)
//   - A quorum voting sub-protocol (ConsensusProposal lifecycle with
//     majority thresholds, expiry and periodic garbage collection)
//
// The Resolver retains resolved conflicts as history and parks manual
// conflicts in a FIFO queue until ManuallyResolveConflict supplies a value.
package conflict
