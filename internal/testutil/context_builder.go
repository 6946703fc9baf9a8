package testutil

import (
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// ContextBuilder helps construct agent contexts with fluent chaining for
// tests. Example:
//
//	ctx := NewContextBuilder("agent-a").Field("k", "v").Version(3).Build()
type ContextBuilder struct {
	agentID     string
	version     int64
	modifiedAt  time.Time
	fields      map[string]any
	sharedWith  []string
	permissions []core.Permission
	clock       map[string]int64
}

// NewContextBuilder creates a new builder for a context owned by agentID.
// Use chainable methods then call Build.
func NewContextBuilder(agentID string) *ContextBuilder {
	return &ContextBuilder{agentID: agentID, fields: map[string]any{}}
}

// Field sets a top-level field value (chainable).
func (b *ContextBuilder) Field(key string, val any) *ContextBuilder {
	b.fields[key] = val
	return b
}

// Version overrides the context version (chainable).
func (b *ContextBuilder) Version(v int64) *ContextBuilder {
	b.version = v
	return b
}

// ModifiedAt overrides the last-modified timestamp (chainable).
func (b *ContextBuilder) ModifiedAt(t time.Time) *ContextBuilder {
	b.modifiedAt = t
	return b
}

// SharedWith marks the context as shared with the given agents (chainable).
func (b *ContextBuilder) SharedWith(agentIDs ...string) *ContextBuilder {
	b.sharedWith = append(b.sharedWith, agentIDs...)
	return b
}

// Permission attaches a permission (chainable).
func (b *ContextBuilder) Permission(p core.Permission) *ContextBuilder {
	b.permissions = append(b.permissions, p)
	return b
}

// Clock sets one vector clock counter (chainable).
func (b *ContextBuilder) Clock(agentID string, counter int64) *ContextBuilder {
	if b.clock == nil {
		b.clock = map[string]int64{}
	}
	b.clock[agentID] = counter
	return b
}

// Build returns a *core.AgentContext with the accumulated state.
func (b *ContextBuilder) Build() *core.AgentContext {
	c := core.NewAgentContext(b.agentID)

	for k, v := range b.fields {
		c.Fields[k] = v
	}
	for _, id := range b.sharedWith {
		c.SharedWith[id] = true
	}
	c.Permissions = append(c.Permissions, b.permissions...)

	if b.version > 0 {
		c.Version = b.version
	}
	if !b.modifiedAt.IsZero() {
		c.LastModified = b.modifiedAt
	}
	for id, counter := range b.clock {
		c.VectorClock.Clocks[id] = counter
	}

	return c
}
