package core

import (
	"time"

	"github.com/google/uuid"
)

// UpdateOperation enumerates the mutations a ContextUpdate may carry.
type UpdateOperation string

const (
	// UpdateOpSet writes the new value at the field path.
	UpdateOpSet UpdateOperation = "set"
	// UpdateOpDelete removes the value at the field path.
	UpdateOpDelete UpdateOperation = "delete"
	// UpdateOpMerge shallow-merges a map value into the field path.
	UpdateOpMerge UpdateOperation = "merge"
)

// ContextUpdate is an immutable record of a single field mutation produced by
// an agent. Updates are queued for propagation and consumed exactly once;
// after construction no field is modified.
type ContextUpdate struct {
	UpdateID  string          `json:"update_id"`
	AgentID   string          `json:"agent_id"`
	Timestamp time.Time       `json:"timestamp"`
	Operation UpdateOperation `json:"operation"`
	FieldPath string          `json:"field_path"`
	NewValue  any             `json:"new_value,omitempty"`
}

// NewContextUpdate creates an update record authored by agentID.
func NewContextUpdate(agentID string, op UpdateOperation, fieldPath string, value any) ContextUpdate {
	return ContextUpdate{
		UpdateID:  NewID(),
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Operation: op,
		FieldPath: fieldPath,
		NewValue:  value,
	}
}

// NewSnapshotUpdate encodes a context's full field state as a root merge
// update, the form synchronizers hand to the injected transport when
// propagating whole snapshots rather than single field mutations.
func NewSnapshotUpdate(context *AgentContext) ContextUpdate {
	return ContextUpdate{
		UpdateID:  NewID(),
		AgentID:   context.AgentID,
		Timestamp: time.Now().UTC(),
		Operation: UpdateOpMerge,
		NewValue:  deepCopyMap(context.Fields),
	}
}

// NewID generates a new unique identifier for updates, conflicts, proposals,
// partitions and published messages.
func NewID() string { return uuid.NewString() }
