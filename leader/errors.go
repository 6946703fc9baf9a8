package leader

import "errors"

var (
	// ErrGroupNotFound indicates no election has happened for the group.
	ErrGroupNotFound = errors.New("coordination group not found")
	// ErrNoCandidates indicates an election was requested with an empty
	// candidate set.
	ErrNoCandidates = errors.New("no election candidates")
	// ErrNotLeader indicates the acting agent is not the group's current
	// leader.
	ErrNotLeader = errors.New("agent is not the group leader")
	// ErrFollowerNotFound indicates the agent is not a follower of the group.
	ErrFollowerNotFound = errors.New("follower not found in group")
)
