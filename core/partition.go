package core

import "time"

// NetworkPartition records a period during which a subset of agents could not
// synchronize with the rest of the group. Declaring and recovering partitions
// is a caller-driven action; health sweeps only signal degradation.
type NetworkPartition struct {
	PartitionID string          `json:"partition_id"`
	Agents      map[string]bool `json:"agents"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	IsActive    bool            `json:"is_active"`
}

// NewNetworkPartition records an active partition covering the given agents.
func NewNetworkPartition(id string, agents []string) *NetworkPartition {
	p := &NetworkPartition{
		PartitionID: id,
		Agents:      make(map[string]bool, len(agents)),
		StartTime:   time.Now().UTC(),
		IsActive:    true,
	}
	for _, a := range agents {
		p.Agents[a] = true
	}
	return p
}

// Contains reports whether agentID is inside the partition.
func (p *NetworkPartition) Contains(agentID string) bool { return p.Agents[agentID] }

// Deactivate marks the partition recovered, stamping its end time.
func (p *NetworkPartition) Deactivate() {
	now := time.Now().UTC()
	p.EndTime = &now
	p.IsActive = false
}
