package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func clockOf(counters map[string]int64) VectorClock {
	v := NewVectorClock()
	for id, c := range counters {
		v.Clocks[id] = c
	}
	return v
}

func TestVectorClock_Tick(t *testing.T) {
	v := NewVectorClock()
	v.Tick("a")
	v.Tick("a")
	v.Tick("b")

	assert.Equal(t, int64(2), v.Counter("a"))
	assert.Equal(t, int64(1), v.Counter("b"))
	assert.Equal(t, int64(3), v.Version)
	assert.Equal(t, int64(0), v.Counter("unknown"))
}

func TestVectorClock_Merge_PerKeyMax(t *testing.T) {
	a := clockOf(map[string]int64{"a": 3, "b": 1})
	a.Version = 4
	b := clockOf(map[string]int64{"b": 5, "c": 2})
	b.Version = 7

	merged := a.Merge(b)

	assert.Equal(t, int64(3), merged.Counter("a"))
	assert.Equal(t, int64(5), merged.Counter("b"))
	assert.Equal(t, int64(2), merged.Counter("c"))
	assert.Equal(t, int64(8), merged.Version, "version is max(inputs)+1")

	// Inputs untouched.
	assert.Equal(t, int64(1), a.Counter("b"))
	assert.Equal(t, int64(0), b.Counter("a"))
}

func TestVectorClock_Merge_Commutative(t *testing.T) {
	a := clockOf(map[string]int64{"a": 3, "b": 1})
	b := clockOf(map[string]int64{"b": 5, "c": 2})

	ab := a.Merge(b)
	ba := b.Merge(a)

	assert.Equal(t, ab.Clocks, ba.Clocks)
	assert.Equal(t, ab.Version, ba.Version)
}

func TestVectorClock_Merge_Associative(t *testing.T) {
	a := clockOf(map[string]int64{"a": 3})
	b := clockOf(map[string]int64{"b": 5})
	c := clockOf(map[string]int64{"a": 1, "c": 2})

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))

	// Counter maps agree regardless of grouping; the version bump is a
	// local convenience and differs by construction order only.
	assert.Equal(t, left.Clocks, right.Clocks)
}

func TestVectorClock_Merge_Idempotent(t *testing.T) {
	a := clockOf(map[string]int64{"a": 3, "b": 1})
	merged := a.Merge(a)

	assert.Equal(t, a.Clocks, merged.Clocks, "self-merge changes no counters")
}

func TestVectorClock_Compare(t *testing.T) {
	base := clockOf(map[string]int64{"a": 2, "b": 2})

	tests := []struct {
		name  string
		other VectorClock
		want  ClockOrdering
	}{
		{"equal", clockOf(map[string]int64{"a": 2, "b": 2}), ClockEqual},
		{"before", clockOf(map[string]int64{"a": 3, "b": 2}), ClockBefore},
		{"after", clockOf(map[string]int64{"a": 1, "b": 2}), ClockAfter},
		{"concurrent", clockOf(map[string]int64{"a": 1, "b": 3}), ClockConcurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Compare(tt.other))
		})
	}
}

func TestVectorClock_Clone_Independent(t *testing.T) {
	a := clockOf(map[string]int64{"a": 1})
	clone := a.Clone()
	clone.Tick("a")

	assert.Equal(t, int64(1), a.Counter("a"))
	assert.Equal(t, int64(2), clone.Counter("a"))
}
