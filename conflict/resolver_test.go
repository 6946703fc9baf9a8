package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DetectConflicts(t *testing.T) {
	r := New()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-b").Field("status", "busy").Field("region", "eu").Build(),
		testutil.NewContextBuilder("agent-a").Field("status", "idle").Field("region", "eu").Build(),
	}

	conflicts := r.DetectConflicts(contexts)

	require.Len(t, conflicts, 1, "agreed fields never conflict")
	c := conflicts[0]
	assert.Equal(t, "status", c.FieldPath)
	assert.Equal(t, []string{"agent-a", "agent-b"}, c.ConflictingAgents, "agents sorted")
	assert.Equal(t, "idle", c.Values["agent-a"])
	assert.Equal(t, "busy", c.Values["agent-b"])
	assert.False(t, c.Resolved)
}

func TestResolver_DetectConflicts_SingleHolder(t *testing.T) {
	r := New()

	conflicts := r.DetectConflicts([]*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("only", 1).Build(),
		testutil.NewContextBuilder("agent-b").Build(),
	})

	assert.Empty(t, conflicts)
}

func TestResolver_Resolve_LastWriterWins(t *testing.T) {
	r := New()
	base := time.Now().UTC()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").ModifiedAt(base).Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").ModifiedAt(base.Add(time.Second)).Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], core.LastWriterWins, contexts)
	require.NoError(t, err)
	assert.Equal(t, "busy", value)
	assert.True(t, conflicts[0].Resolved)
	assert.Equal(t, core.LastWriterWins, conflicts[0].ResolutionStrategy)
}

func TestResolver_Resolve_WriterTieBreaksLexically(t *testing.T) {
	r := New()
	at := time.Now().UTC()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-b").Field("status", "busy").ModifiedAt(at).Build(),
		testutil.NewContextBuilder("agent-a").Field("status", "idle").ModifiedAt(at).Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], core.LastWriterWins, contexts)
	require.NoError(t, err)
	assert.Equal(t, "idle", value, "equal timestamps resolve to the lexically smaller agent")
}

func TestResolver_Resolve_FirstWriterWins(t *testing.T) {
	r := New()
	base := time.Now().UTC()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").ModifiedAt(base).Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").ModifiedAt(base.Add(time.Second)).Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], core.FirstWriterWins, contexts)
	require.NoError(t, err)
	assert.Equal(t, "idle", value)
}

func TestResolver_Resolve_PriorityBased(t *testing.T) {
	r := New(func(o *Options) {
		o.Priorities = map[string]core.Priority{"agent-b": core.PriorityHigh}
	})

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], core.PriorityBased, contexts)
	require.NoError(t, err)
	assert.Equal(t, "busy", value, "unspecified agents default to medium priority")
}

func TestResolver_Resolve_MergeValues(t *testing.T) {
	r := New()

	t.Run("arrays become a set union", func(t *testing.T) {
		contexts := []*core.AgentContext{
			testutil.NewContextBuilder("agent-a").Field("tags", []any{"x", "y"}).Build(),
			testutil.NewContextBuilder("agent-b").Field("tags", []any{"y", "z"}).Build(),
		}
		conflicts := r.DetectConflicts(contexts)
		require.Len(t, conflicts, 1)

		value, err := r.Resolve(context.Background(), conflicts[0], core.MergeValues, contexts)
		require.NoError(t, err)
		assert.Equal(t, []any{"x", "y", "z"}, value)
	})

	t.Run("maps shallow-merge", func(t *testing.T) {
		contexts := []*core.AgentContext{
			testutil.NewContextBuilder("agent-a").Field("prefs", map[string]any{"a": 1, "b": 1}).Build(),
			testutil.NewContextBuilder("agent-b").Field("prefs", map[string]any{"b": 2, "c": 3}).Build(),
		}
		conflicts := r.DetectConflicts(contexts)
		require.Len(t, conflicts, 1)

		value, err := r.Resolve(context.Background(), conflicts[0], core.MergeValues, contexts)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, value)
	})

	t.Run("strings space-join", func(t *testing.T) {
		contexts := []*core.AgentContext{
			testutil.NewContextBuilder("agent-a").Field("note", "hello").Build(),
			testutil.NewContextBuilder("agent-b").Field("note", "world").Build(),
		}
		conflicts := r.DetectConflicts(contexts)
		require.Len(t, conflicts, 1)

		value, err := r.Resolve(context.Background(), conflicts[0], core.MergeValues, contexts)
		require.NoError(t, err)
		assert.Equal(t, "hello world", value)
	})

	t.Run("mixed types keep the first value", func(t *testing.T) {
		contexts := []*core.AgentContext{
			testutil.NewContextBuilder("agent-a").Field("v", 1).Build(),
			testutil.NewContextBuilder("agent-b").Field("v", "one").Build(),
		}
		conflicts := r.DetectConflicts(contexts)
		require.Len(t, conflicts, 1)

		value, err := r.Resolve(context.Background(), conflicts[0], core.MergeValues, contexts)
		require.NoError(t, err)
		assert.Equal(t, 1, value)
	})
}

func TestResolver_Resolve_ConsensusBased(t *testing.T) {
	r := New()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("v", 1).Build(),
		testutil.NewContextBuilder("agent-b").Field("v", 1).Build(),
		testutil.NewContextBuilder("agent-c").Field("v", 2).Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], core.ConsensusBased, contexts)
	require.NoError(t, err)
	assert.Equal(t, 1, value, "majority value wins")
}

func TestResolver_Resolve_UnknownStrategyFallsBack(t *testing.T) {
	r := New()
	base := time.Now().UTC()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").ModifiedAt(base).Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").ModifiedAt(base.Add(time.Second)).Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	value, err := r.Resolve(context.Background(), conflicts[0], "quantum", contexts)
	require.NoError(t, err)
	assert.Equal(t, "busy", value)
	assert.Equal(t, core.LastWriterWins, conflicts[0].ResolutionStrategy)
}

func TestResolver_ManualResolutionLifecycle(t *testing.T) {
	r := New()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)
	conflictID := conflicts[0].ConflictID

	value, err := r.Resolve(context.Background(), conflicts[0], core.ManualResolution, contexts)
	require.NoError(t, err)
	assert.Nil(t, value, "manual resolution produces no value")
	assert.False(t, conflicts[0].Resolved)

	pending := r.PendingConflicts()
	require.Len(t, pending, 1)
	assert.Equal(t, conflictID, pending[0].ConflictID)

	res := r.ManuallyResolveConflict(conflictID, "operator-choice", "operator")
	require.True(t, res.Success)
	assert.True(t, conflicts[0].Resolved)
	assert.Equal(t, "operator-choice", conflicts[0].ResolvedValue)
	assert.Equal(t, "operator", conflicts[0].ResolvedBy)
	assert.Equal(t, core.ManualResolution, conflicts[0].ResolutionStrategy)
	assert.Empty(t, r.PendingConflicts())

	again := r.ManuallyResolveConflict(conflictID, "x", "operator")
	assert.False(t, again.Success)
	assert.ErrorIs(t, again.Err, ErrConflictNotFound)
}

func TestResolver_HistoryRetained(t *testing.T) {
	r := New()

	contexts := []*core.AgentContext{
		testutil.NewContextBuilder("agent-a").Field("status", "idle").Build(),
		testutil.NewContextBuilder("agent-b").Field("status", "busy").Build(),
	}
	conflicts := r.DetectConflicts(contexts)
	require.Len(t, conflicts, 1)

	_, err := r.Resolve(context.Background(), conflicts[0], core.LastWriterWins, contexts)
	require.NoError(t, err)

	history := r.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
}
