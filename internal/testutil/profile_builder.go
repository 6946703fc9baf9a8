package testutil

import (
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// ProfileBuilder helps construct agent profiles for routing tests.
type ProfileBuilder struct {
	profile core.AgentProfile
}

// NewProfileBuilder creates a builder for an available agent seen just now.
func NewProfileBuilder(agentID string) *ProfileBuilder {
	return &ProfileBuilder{profile: core.AgentProfile{
		AgentID:      agentID,
		Availability: 1.0,
		ResponseTime: time.Second,
		LastSeen:     time.Now().UTC(),
		Proximity:    map[string]float64{},
	}}
}

// Capabilities sets the agent's capability list (chainable).
func (b *ProfileBuilder) Capabilities(caps ...string) *ProfileBuilder {
	b.profile.Capabilities = caps
	return b
}

// Availability sets the agent's availability (chainable).
func (b *ProfileBuilder) Availability(a float64) *ProfileBuilder {
	b.profile.Availability = a
	return b
}

// ResponseTime sets the agent's average response time (chainable).
func (b *ProfileBuilder) ResponseTime(d time.Duration) *ProfileBuilder {
	b.profile.ResponseTime = d
	return b
}

// LastSeen overrides the last-seen timestamp (chainable).
func (b *ProfileBuilder) LastSeen(t time.Time) *ProfileBuilder {
	b.profile.LastSeen = t
	return b
}

// Proximity sets the proximity to another agent (chainable).
func (b *ProfileBuilder) Proximity(agentID string, p float64) *ProfileBuilder {
	b.profile.Proximity[agentID] = p
	return b
}

// Build returns the accumulated profile.
func (b *ProfileBuilder) Build() core.AgentProfile {
	return b.profile
}
