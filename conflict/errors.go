package conflict

import "errors"

var (
	// ErrConflictNotFound indicates the conflict id is not in the pending set.
	ErrConflictNotFound = errors.New("conflict not found")
	// ErrProposalNotFound indicates the proposal id is unknown.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrProposalTerminal indicates a vote arrived after a terminal status.
	ErrProposalTerminal = errors.New("proposal already decided")
	// ErrProposalExpired indicates a vote arrived after the proposal expiry.
	ErrProposalExpired = errors.New("proposal expired")
	// ErrNotParticipant indicates the voter is outside the participant set.
	ErrNotParticipant = errors.New("agent is not a proposal participant")
	// ErrNoContexts indicates resolution was attempted without any source contexts.
	ErrNoContexts = errors.New("no contexts supplied")
)
