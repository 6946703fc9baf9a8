package core

import "time"

// ResolutionStrategy enumerates the supported conflict resolution strategies.
type ResolutionStrategy string

const (
	// LastWriterWins keeps the most recently modified value; ties are broken
	// by lexical agent id order so resolution is deterministic.
	LastWriterWins ResolutionStrategy = "last_writer_wins"
	// FirstWriterWins keeps the earliest modified value, same tie-break.
	FirstWriterWins ResolutionStrategy = "first_writer_wins"
	// PriorityBased keeps the value held by the highest-priority agent.
	PriorityBased ResolutionStrategy = "priority_based"
	// MergeValues structurally combines the conflicting values.
	MergeValues ResolutionStrategy = "merge_values"
	// ConsensusBased keeps the majority value among contributors.
	ConsensusBased ResolutionStrategy = "consensus_based"
	// ManualResolution parks the conflict until externally resolved.
	ManualResolution ResolutionStrategy = "manual_resolution"
)

// Priority orders agents for priority-based resolution and aggregation.
type Priority int

const (
	// PriorityLow is the lowest agent priority.
	PriorityLow Priority = iota
	// PriorityMedium is the default priority for unspecified agents.
	PriorityMedium
	// PriorityHigh is the highest agent priority.
	PriorityHigh
)

// ContextConflict records a divergence where two or more agents hold
// differing values for the same field. It is mutated only by resolution and
// afterwards retained as history.
type ContextConflict struct {
	ConflictID         string             `json:"conflict_id"`
	FieldPath          string             `json:"field_path"`
	ConflictingAgents  []string           `json:"conflicting_agents"`
	Values             map[string]any     `json:"values"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	Resolved           bool               `json:"resolved"`
	ResolvedValue      any                `json:"resolved_value,omitempty"`
	ResolvedBy         string             `json:"resolved_by,omitempty"`
	DetectedAt         time.Time          `json:"detected_at"`
}

// Vote is a single agent's position on a consensus proposal.
type Vote string

const (
	// VoteApprove counts toward acceptance.
	VoteApprove Vote = "approve"
	// VoteReject counts toward rejection.
	VoteReject Vote = "reject"
	// VoteAbstain is recorded but counts toward neither threshold.
	VoteAbstain Vote = "abstain"
)

// ProposalStatus is the lifecycle state of a consensus proposal.
type ProposalStatus string

const (
	// ProposalPending means the vote is still open.
	ProposalPending ProposalStatus = "pending"
	// ProposalAccepted means approvals reached the required majority.
	ProposalAccepted ProposalStatus = "accepted"
	// ProposalRejected means rejections reached the required majority.
	ProposalRejected ProposalStatus = "rejected"
	// ProposalTimeout means the proposal expired before either threshold.
	ProposalTimeout ProposalStatus = "timeout"
)

// Terminal reports whether the status is a final state.
func (s ProposalStatus) Terminal() bool { return s != ProposalPending }

// ConsensusProposal tracks a quorum vote over a conflicting value. The
// required vote count is a strict majority of the participant set; votes
// arriving after a terminal status are rejected.
type ConsensusProposal struct {
	ProposalID    string          `json:"proposal_id"`
	ConflictID    string          `json:"conflict_id"`
	ProposedBy    string          `json:"proposed_by"`
	Participants  map[string]bool `json:"participants"`
	Votes         map[string]Vote `json:"votes"`
	RequiredVotes int             `json:"required_votes"`
	Status        ProposalStatus  `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}

// MajorityOf returns the majority threshold ceil(n/2) for n participants
// (5 => 3, 4 => 2, 1 => 1).
func MajorityOf(n int) int { return (n + 1) / 2 }
