package core

import "time"

// AgentProfile describes a routable agent: what it can do, how close it is
// to its peers and how loaded it currently is. Profiles are registered with
// the router and refreshed by status updates; an agent not seen recently is
// considered unhealthy and excluded from routing pools.
type AgentProfile struct {
	AgentID      string             `json:"agent_id"`
	Capabilities []string           `json:"capabilities"`
	Proximity    map[string]float64 `json:"proximity,omitempty"`
	Availability float64            `json:"availability"`
	ResponseTime time.Duration      `json:"response_time"`
	LastSeen     time.Time          `json:"last_seen"`
}

// HasCapability reports whether the profile lists the named capability.
func (p AgentProfile) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether every required capability is listed.
func (p AgentProfile) HasAllCapabilities(required []string) bool {
	for _, c := range required {
		if !p.HasCapability(c) {
			return false
		}
	}
	return true
}

// ProximityTo returns the recorded proximity score to the given agent in the
// range [0,1] (zero when unknown).
func (p AgentProfile) ProximityTo(agentID string) float64 {
	return p.Proximity[agentID]
}

// Clone returns a deep copy of the profile.
func (p AgentProfile) Clone() AgentProfile {
	clone := p
	clone.Capabilities = append([]string(nil), p.Capabilities...)
	clone.Proximity = make(map[string]float64, len(p.Proximity))
	for id, v := range p.Proximity {
		clone.Proximity[id] = v
	}
	return clone
}
