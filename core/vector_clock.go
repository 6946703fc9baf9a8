package core

// ClockOrdering describes the causal relationship between two vector clocks.
type ClockOrdering int

const (
	// ClockEqual indicates both clocks carry identical counters.
	ClockEqual ClockOrdering = iota
	// ClockBefore indicates the receiver causally precedes the other clock.
	ClockBefore
	// ClockAfter indicates the receiver causally succeeds the other clock.
	ClockAfter
	// ClockConcurrent indicates neither clock dominates the other.
	ClockConcurrent
)

// String returns the string representation of the ordering.
func (o ClockOrdering) String() string {
	switch o {
	case ClockEqual:
		return "equal"
	case ClockBefore:
		return "before"
	case ClockAfter:
		return "after"
	case ClockConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// VectorClock tracks causal history across concurrently mutating agents.
// Each agent owns one counter; counters are non-decreasing. Version is a
// convenience scalar bumped on every tick and merge so callers can cheaply
// order locally observed states without comparing full clock maps.
//
// Contract:
//   - Tick increments the owning agent's counter and Version
//   - Merge is the CRDT-style join: per-key max, Version = max(versions)+1
//   - Merge is commutative, associative and idempotent modulo the Version bump
type VectorClock struct {
	Clocks  map[string]int64 `json:"clocks"`
	Version int64            `json:"version"`
}

// NewVectorClock creates an empty vector clock.
func NewVectorClock() VectorClock {
	return VectorClock{Clocks: map[string]int64{}}
}

// Tick increments the counter for agentID and bumps Version. Called on every
// local mutation of the owning context.
func (v *VectorClock) Tick(agentID string) {
	if v.Clocks == nil {
		v.Clocks = map[string]int64{}
	}
	v.Clocks[agentID]++
	v.Version++
}

// Merge joins two clocks taking the per-agent maximum of every counter. The
// resulting Version is max(v.Version, other.Version)+1 marking the join as a
// new observable state. Neither input is mutated.
func (v VectorClock) Merge(other VectorClock) VectorClock {
	merged := VectorClock{Clocks: make(map[string]int64, len(v.Clocks)+len(other.Clocks))}
	for id, c := range v.Clocks {
		merged.Clocks[id] = c
	}
	for id, c := range other.Clocks {
		if c > merged.Clocks[id] {
			merged.Clocks[id] = c
		}
	}
	merged.Version = maxInt64(v.Version, other.Version) + 1
	return merged
}

// Compare reports the causal ordering between v and other based solely on the
// per-agent counters (Version is ignored; it is a local convenience only).
func (v VectorClock) Compare(other VectorClock) ClockOrdering {
	atLeastOneLess := false
	atLeastOneGreater := false

	seen := map[string]bool{}
	for id := range v.Clocks {
		seen[id] = true
	}
	for id := range other.Clocks {
		seen[id] = true
	}

	for id := range seen {
		a := v.Clocks[id]
		b := other.Clocks[id]
		if a < b {
			atLeastOneLess = true
		}
		if a > b {
			atLeastOneGreater = true
		}
	}

	switch {
	case atLeastOneLess && atLeastOneGreater:
		return ClockConcurrent
	case atLeastOneLess:
		return ClockBefore
	case atLeastOneGreater:
		return ClockAfter
	default:
		return ClockEqual
	}
}

// Counter returns the counter recorded for agentID (zero if absent).
func (v VectorClock) Counter(agentID string) int64 { return v.Clocks[agentID] }

// Clone returns a deep copy safe for independent mutation.
func (v VectorClock) Clone() VectorClock {
	clone := VectorClock{Clocks: make(map[string]int64, len(v.Clocks)), Version: v.Version}
	for id, c := range v.Clocks {
		clone.Clocks[id] = c
	}
	return clone
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
