package conflict

import (
	"fmt"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

const (
	// ConsensusSweepInterval is the cadence of the proposal maintenance sweep.
	ConsensusSweepInterval = 30 * time.Second
	// ProposalRetention is how long terminal proposals are kept before
	// garbage collection.
	ProposalRetention = time.Hour
)

// StartConsensus opens a quorum vote over a conflict. The required vote count
// is the majority of the participant set; the proposal expires after timeout
// and is then force-timed-out by the maintenance sweep (or lazily on the next
// vote).
func (r *Resolver) StartConsensus(conflict *core.ContextConflict, participants []string, timeout time.Duration) (*core.ConsensusProposal, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("start consensus: no participants")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("start consensus: timeout must be positive")
	}

	now := time.Now().UTC()
	proposal := &core.ConsensusProposal{
		ProposalID:    core.NewID(),
		ConflictID:    conflict.ConflictID,
		ProposedBy:    conflict.ResolvedBy,
		Participants:  make(map[string]bool, len(participants)),
		Votes:         map[string]core.Vote{},
		RequiredVotes: core.MajorityOf(len(participants)),
		Status:        core.ProposalPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(timeout),
	}
	for _, p := range participants {
		proposal.Participants[p] = true
	}

	r.mu.Lock()
	r.proposals[proposal.ProposalID] = proposal
	r.mu.Unlock()

	return proposal, nil
}

// SubmitVote records one agent's vote on a pending proposal. Resubmission
// overwrites the previous vote while the proposal is pending; votes arriving
// after expiry or a terminal status are rejected. The status flips to
// accepted or rejected as soon as either side crosses the majority threshold.
func (r *Resolver) SubmitVote(proposalID, agentID string, vote core.Vote) core.Result {
	const op = "conflict.submit_vote"

	r.mu.Lock()
	defer r.mu.Unlock()

	proposal, ok := r.proposals[proposalID]
	if !ok {
		return core.Fail(op, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID))
	}
	if proposal.Status.Terminal() {
		return core.Fail(op, fmt.Errorf("%w: status %s", ErrProposalTerminal, proposal.Status))
	}
	now := time.Now().UTC()
	if now.After(proposal.ExpiresAt) {
		r.timeoutProposalLocked(proposal, now)
		return core.Fail(op, fmt.Errorf("%w: %s", ErrProposalExpired, proposalID))
	}
	if !proposal.Participants[agentID] {
		return core.Fail(op, fmt.Errorf("%w: %s", ErrNotParticipant, agentID))
	}

	proposal.Votes[agentID] = vote

	approvals, rejections := 0, 0
	for _, v := range proposal.Votes {
		switch v {
		case core.VoteApprove:
			approvals++
		case core.VoteReject:
			rejections++
		}
	}

	switch {
	case approvals >= proposal.RequiredVotes:
		proposal.Status = core.ProposalAccepted
		proposal.DecidedAt = &now
	case rejections >= proposal.RequiredVotes:
		proposal.Status = core.ProposalRejected
		proposal.DecidedAt = &now
	}

	return core.OK(op, proposal)
}

// Proposal returns the proposal with the given id, or ErrProposalNotFound.
func (r *Resolver) Proposal(proposalID string) (*core.ConsensusProposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proposal, ok := r.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	return proposal, nil
}

// RegisterSweeps attaches the proposal maintenance sweep to the scheduler.
func (r *Resolver) RegisterSweeps(scheduler *core.Scheduler) error {
	return scheduler.Every("conflict.consensus_sweep", ConsensusSweepInterval, r.SweepProposals)
}

// SweepProposals force-times-out pending proposals past their expiry and
// garbage-collects terminal proposals older than ProposalRetention.
func (r *Resolver) SweepProposals() {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, proposal := range r.proposals {
		if proposal.Status == core.ProposalPending && now.After(proposal.ExpiresAt) {
			r.timeoutProposalLocked(proposal, now)
			continue
		}
		if proposal.Status.Terminal() {
			decided := proposal.ExpiresAt
			if proposal.DecidedAt != nil {
				decided = *proposal.DecidedAt
			}
			if now.Sub(decided) > ProposalRetention {
				delete(r.proposals, id)
			}
		}
	}
}

func (r *Resolver) timeoutProposalLocked(proposal *core.ConsensusProposal, now time.Time) {
	proposal.Status = core.ProposalTimeout
	proposal.DecidedAt = &now
	r.logger.Debug("proposal %s timed out", proposal.ProposalID)
}
