package core

import (
	"fmt"
	"time"
)

// AgentContext is the shared mutable state owned by a single agent. Copies
// handed to other components are independent snapshots produced by Clone;
// internal maps are never aliased across component boundaries.
//
// Contract:
//   - Version increases monotonically per owning agent
//   - Field mutations update LastModified and tick the vector clock
//   - Clone performs deep copies of maps/slices for safe divergence
type AgentContext struct {
	AgentID      string          `json:"agent_id"`
	Version      int64           `json:"version"`
	LastModified time.Time       `json:"last_modified"`
	SharedWith   map[string]bool `json:"shared_with"`
	Permissions  []Permission    `json:"permissions"`
	VectorClock  VectorClock     `json:"vector_clock"`
	Fields       map[string]any  `json:"fields"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// NewAgentContext creates an empty context owned by agentID with an initial
// vector clock tick recording its creation.
func NewAgentContext(agentID string) *AgentContext {
	clock := NewVectorClock()
	clock.Tick(agentID)
	return &AgentContext{
		AgentID:      agentID,
		Version:      1,
		LastModified: time.Now().UTC(),
		SharedWith:   map[string]bool{},
		Permissions:  []Permission{},
		VectorClock:  clock,
		Fields:       map[string]any{},
	}
}

// Touch records a local mutation: bumps Version, refreshes LastModified and
// ticks the owning agent's clock counter.
func (c *AgentContext) Touch() {
	c.Version++
	c.LastModified = time.Now().UTC()
	c.VectorClock.Tick(c.AgentID)
}

// Field resolves a dot/bracket field path (gjson syntax) against Fields.
// The boolean reports whether the path resolved to a value.
func (c *AgentContext) Field(path string) (any, bool) {
	return LookupField(c.Fields, path)
}

// SetField writes value at the given field path (sjson syntax) and records
// the mutation via Touch.
func (c *AgentContext) SetField(path string, value any) error {
	fields, err := SetField(c.Fields, path, value)
	if err != nil {
		return err
	}
	c.Fields = fields
	c.Touch()
	return nil
}

// DeleteField removes the value at the given field path and records the
// mutation via Touch. Deleting an absent path is a no-op.
func (c *AgentContext) DeleteField(path string) error {
	fields, err := DeleteField(c.Fields, path)
	if err != nil {
		return err
	}
	c.Fields = fields
	c.Touch()
	return nil
}

// ApplyUpdate applies an immutable ContextUpdate to the context. Supported
// operations: set, delete and merge (shallow map merge at the target path).
// An empty field path addresses the whole field map: set replaces it, merge
// shallow-merges into it and delete clears it.
func (c *AgentContext) ApplyUpdate(update ContextUpdate) error {
	if update.FieldPath == "" {
		return c.applyRootUpdate(update)
	}
	switch update.Operation {
	case UpdateOpSet:
		return c.SetField(update.FieldPath, update.NewValue)
	case UpdateOpDelete:
		return c.DeleteField(update.FieldPath)
	case UpdateOpMerge:
		existing, ok := c.Field(update.FieldPath)
		if !ok {
			return c.SetField(update.FieldPath, update.NewValue)
		}
		existingMap, okA := existing.(map[string]any)
		incomingMap, okB := update.NewValue.(map[string]any)
		if !okA || !okB {
			return c.SetField(update.FieldPath, update.NewValue)
		}
		merged := make(map[string]any, len(existingMap)+len(incomingMap))
		for k, v := range existingMap {
			merged[k] = v
		}
		for k, v := range incomingMap {
			merged[k] = v
		}
		return c.SetField(update.FieldPath, merged)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, update.Operation)
	}
}

func (c *AgentContext) applyRootUpdate(update ContextUpdate) error {
	switch update.Operation {
	case UpdateOpSet, UpdateOpMerge:
		incoming, ok := update.NewValue.(map[string]any)
		if !ok {
			return fmt.Errorf("root %s requires a map value, got %T", update.Operation, update.NewValue)
		}
		if update.Operation == UpdateOpSet {
			c.Fields = deepCopyMap(incoming)
		} else {
			for k, v := range incoming {
				c.Fields[k] = deepCopyValue(v)
			}
		}
	case UpdateOpDelete:
		c.Fields = map[string]any{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, update.Operation)
	}
	c.Touch()
	return nil
}

// IsSharedWith reports whether the context has been shared with agentID.
func (c *AgentContext) IsSharedWith(agentID string) bool {
	return c.SharedWith[agentID]
}

// ActivePermissions returns the unexpired permissions attached to the context.
func (c *AgentContext) ActivePermissions(now time.Time) []Permission {
	out := make([]Permission, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the context safe for independent mutation.
func (c *AgentContext) Clone() *AgentContext {
	clone := &AgentContext{
		AgentID:      c.AgentID,
		Version:      c.Version,
		LastModified: c.LastModified,
		SharedWith:   make(map[string]bool, len(c.SharedWith)),
		Permissions:  make([]Permission, len(c.Permissions)),
		VectorClock:  c.VectorClock.Clone(),
		Fields:       deepCopyMap(c.Fields),
	}
	for id, ok := range c.SharedWith {
		clone.SharedWith[id] = ok
	}
	for i, p := range c.Permissions {
		clone.Permissions[i] = p.Clone()
	}
	if c.Metadata != nil {
		clone.Metadata = deepCopyMap(c.Metadata)
	}
	return clone
}

// Age returns the duration elapsed since the context was last modified.
func (c *AgentContext) Age(now time.Time) time.Duration {
	return now.Sub(c.LastModified)
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}
