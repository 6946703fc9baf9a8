package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentContext(t *testing.T) {
	c := NewAgentContext("agent-a")

	assert.Equal(t, "agent-a", c.AgentID)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, int64(1), c.VectorClock.Counter("agent-a"))
	assert.Empty(t, c.Fields)
}

func TestAgentContext_Touch(t *testing.T) {
	c := NewAgentContext("agent-a")
	before := c.LastModified

	c.Touch()

	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, int64(2), c.VectorClock.Counter("agent-a"))
	assert.False(t, c.LastModified.Before(before))
}

func TestAgentContext_SetField_Nested(t *testing.T) {
	c := NewAgentContext("agent-a")

	require.NoError(t, c.SetField("profile.settings.theme", "dark"))

	v, ok := c.Field("profile.settings.theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
	assert.Equal(t, int64(2), c.Version, "mutation bumps version")
}

func TestAgentContext_DeleteField(t *testing.T) {
	c := NewAgentContext("agent-a")
	require.NoError(t, c.SetField("status", "active"))

	require.NoError(t, c.DeleteField("status"))

	_, ok := c.Field("status")
	assert.False(t, ok)
}

func TestAgentContext_ApplyUpdate(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		c := NewAgentContext("agent-a")
		err := c.ApplyUpdate(NewContextUpdate("agent-b", UpdateOpSet, "status", "busy"))
		require.NoError(t, err)
		v, _ := c.Field("status")
		assert.Equal(t, "busy", v)
	})

	t.Run("merge into map", func(t *testing.T) {
		c := NewAgentContext("agent-a")
		require.NoError(t, c.SetField("prefs", map[string]any{"a": 1, "b": 2}))

		err := c.ApplyUpdate(NewContextUpdate("agent-b", UpdateOpMerge, "prefs", map[string]any{"b": 3, "c": 4}))
		require.NoError(t, err)

		v, _ := c.Field("prefs")
		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Len(t, m, 3)
		assert.EqualValues(t, 3, m["b"])
	})

	t.Run("delete", func(t *testing.T) {
		c := NewAgentContext("agent-a")
		require.NoError(t, c.SetField("status", "active"))
		err := c.ApplyUpdate(NewContextUpdate("agent-b", UpdateOpDelete, "status", nil))
		require.NoError(t, err)
		_, ok := c.Field("status")
		assert.False(t, ok)
	})

	t.Run("unknown operation", func(t *testing.T) {
		c := NewAgentContext("agent-a")
		err := c.ApplyUpdate(NewContextUpdate("agent-b", "invert", "status", nil))
		assert.ErrorIs(t, err, ErrUnknownOperation)
	})
}

func TestAgentContext_ApplyRootUpdate(t *testing.T) {
	c := NewAgentContext("agent-a")
	c.Fields = map[string]any{"keep": true, "replace": 1}

	snapshot := NewSnapshotUpdate(&AgentContext{
		AgentID: "agent-b",
		Fields:  map[string]any{"replace": 2, "new": "x"},
	})
	require.NoError(t, c.ApplyUpdate(snapshot))

	assert.Equal(t, true, c.Fields["keep"], "root merge keeps existing fields")
	assert.EqualValues(t, 2, c.Fields["replace"])
	assert.Equal(t, "x", c.Fields["new"])
}

func TestAgentContext_Clone_Independent(t *testing.T) {
	c := NewAgentContext("agent-a")
	require.NoError(t, c.SetField("nested", map[string]any{"k": "v"}))
	c.SharedWith["agent-b"] = true

	clone := c.Clone()
	clone.Fields["nested"].(map[string]any)["k"] = "changed"
	clone.SharedWith["agent-c"] = true

	assert.Equal(t, "v", c.Fields["nested"].(map[string]any)["k"])
	assert.False(t, c.SharedWith["agent-c"])
}

func TestAgentContext_ActivePermissions(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	c := NewAgentContext("agent-a")
	c.Permissions = []Permission{
		{AgentID: "agent-a", Mode: PermissionReadOnly, ExpiresAt: &past},
		{AgentID: "agent-a", Mode: PermissionReadWrite, ExpiresAt: &future},
		{AgentID: "agent-a", Mode: PermissionReadOnly},
	}

	active := c.ActivePermissions(time.Now().UTC())
	assert.Len(t, active, 2)
}
