package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// HandlePartition records an active partition covering the given agents,
// forcing them into manual mode and marking them unhealthy. Propagation to
// and from partitioned agents stops until recovery.
func (s *Synchronizer) HandlePartition(partitionID string, agents []string) core.Result {
	const op = "syncer.handle_partition"

	if len(agents) == 0 {
		return core.Fail(op, fmt.Errorf("partition %s: no agents", partitionID))
	}

	partition := core.NewNetworkPartition(partitionID, agents)

	s.mu.Lock()
	s.partitions[partitionID] = partition
	for _, id := range agents {
		state := s.stateLocked(id)
		state.Mode = ModeManual
		state.IsHealthy = false
	}
	s.mu.Unlock()

	s.logger.Warn("partition %s declared over %d agents", partitionID, len(agents))
	s.emit(core.NewCoordinationEvent(core.EventPartitionDetected, "").
		WithPayload("partition_id", partitionID).
		WithPayload("agents", agents))

	return core.OK(op, partition)
}

// RecoverFromPartition merges the divergent contexts of the partitioned
// agents and restores their synchronization state. Merging is pairwise by
// version (the higher version wins wholesale, not a full multi-way CRDT
// merge); vector clocks are reconciled by taking the
// per-agent-id maximum across all merging clocks, and every recovered
// context is stamped with version max+1.
func (s *Synchronizer) RecoverFromPartition(ctx context.Context, partitionID string, agents []string) core.Result {
	const op = "syncer.recover_from_partition"

	s.mu.Lock()
	partition, ok := s.partitions[partitionID]
	s.mu.Unlock()
	if !ok {
		return core.Fail(op, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionID))
	}
	if !partition.IsActive {
		return core.Fail(op, fmt.Errorf("%w: %s", ErrPartitionInactive, partitionID))
	}
	if err := ctx.Err(); err != nil {
		return core.Fail(op, err)
	}

	contexts := make([]*core.AgentContext, 0, len(agents))
	for _, id := range agents {
		c, err := s.store.Get(id)
		if err != nil {
			s.logger.Warn("recovery: no stored context for agent %s: %v", id, err)
			continue
		}
		contexts = append(contexts, c)
	}
	if len(contexts) == 0 {
		return core.Fail(op, fmt.Errorf("partition %s: %w", partitionID, core.ErrNotFound))
	}

	// Pairwise merge by version folds to the globally highest version.
	winner := contexts[0]
	mergedClock := contexts[0].VectorClock.Clone()
	var maxVersion int64
	for _, c := range contexts {
		if c.Version > winner.Version {
			winner = c
		}
		if c.Version > maxVersion {
			maxVersion = c.Version
		}
		mergedClock = mergedClock.Merge(c.VectorClock)
	}

	now := time.Now().UTC()
	recovered := make([]string, 0, len(contexts))
	for _, c := range contexts {
		merged := winner.Clone()
		merged.AgentID = c.AgentID
		merged.SharedWith = c.SharedWith
		merged.Permissions = c.Permissions
		merged.Version = maxVersion + 1
		merged.VectorClock = mergedClock.Clone()
		merged.LastModified = now
		if err := s.store.Put(merged); err != nil {
			s.logger.Warn("recovery: store merged context for %s: %v", c.AgentID, err)
			continue
		}
		recovered = append(recovered, c.AgentID)
	}

	s.mu.Lock()
	partition.Deactivate()
	for _, id := range recovered {
		state := s.stateLocked(id)
		state.Mode = s.config.DefaultMode
		state.IsHealthy = true
		state.LastSyncTime = now
	}
	s.mu.Unlock()

	s.logger.Info("partition %s recovered, merged %d contexts to version %d", partitionID, len(recovered), maxVersion+1)
	s.emit(core.NewCoordinationEvent(core.EventPartitionRecovered, "").
		WithPayload("partition_id", partitionID).
		WithPayload("agents", recovered).
		WithPayload("version", maxVersion+1))

	return core.OK(op, map[string]any{
		"partition_id": partitionID,
		"recovered":    recovered,
		"version":      maxVersion + 1,
	})
}

// Partition returns the recorded partition by id.
func (s *Synchronizer) Partition(partitionID string) (*core.NetworkPartition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[partitionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, partitionID)
	}
	return p, nil
}
