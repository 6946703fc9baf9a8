package core

import "time"

// SyncStatus is a follower's replication state relative to its leader.
type SyncStatus string

const (
	// SyncUpToDate means the follower holds the leader's current version.
	SyncUpToDate SyncStatus = "up_to_date"
	// SyncSyncing means a catch-up transfer is in flight.
	SyncSyncing SyncStatus = "syncing"
	// SyncOutdated means the follower lags behind the leader.
	SyncOutdated SyncStatus = "outdated"
	// SyncDisconnected means propagation to the follower is failing.
	SyncDisconnected SyncStatus = "disconnected"
)

// LeaderStatus tracks the authoritative agent of a coordination group. Term
// increases strictly monotonically per group across elections and failovers.
type LeaderStatus struct {
	GroupID        string    `json:"group_id"`
	AgentID        string    `json:"agent_id"`
	Term           int64     `json:"term"`
	ElectedAt      time.Time `json:"elected_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	IsHealthy      bool      `json:"is_healthy"`
	ContextVersion int64     `json:"context_version"`
}

// FollowerStatus tracks one replicating agent within a coordination group.
type FollowerStatus struct {
	GroupID        string     `json:"group_id"`
	AgentID        string     `json:"agent_id"`
	ContextVersion int64      `json:"context_version"`
	SyncStatus     SyncStatus `json:"sync_status"`
	Lag            int64      `json:"lag"`
	LastSyncAt     time.Time  `json:"last_sync_at"`
}
