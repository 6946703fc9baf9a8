package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/internal/testutil"
	"github.com/hupe1980/contextmesh/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures deliveries per target and can fail selected
// targets.
type recordingTransport struct {
	mu      sync.Mutex
	sent    map[string][]core.ContextUpdate
	failFor map[string]bool
	sendErr error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: map[string][]core.ContextUpdate{}, failFor: map[string]bool{}}
}

func (r *recordingTransport) Send(_ context.Context, target string, update core.ContextUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[target] {
		if r.sendErr != nil {
			return r.sendErr
		}
		return errors.New("unreachable")
	}
	r.sent[target] = append(r.sent[target], update)
	return nil
}

func (r *recordingTransport) deliveries(target string) []core.ContextUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.ContextUpdate(nil), r.sent[target]...)
}

func newTestSynchronizer(t *testing.T, transport core.Transport) (*Synchronizer, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	s := New(st, func(o *Options) {
		o.Transport = transport
	})
	return s, st
}

func TestSynchronize_Realtime(t *testing.T) {
	transport := newRecordingTransport()
	s, st := newTestSynchronizer(t, transport)

	ctx := testutil.NewContextBuilder("agent-a").
		Field("status", "active").
		SharedWith("agent-b", "agent-c").
		Build()

	res := s.Synchronize(context.Background(), "agent-a", ctx, ModeRealtime)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, 2, data["propagated"])
	assert.Empty(t, data["failed_peers"])

	stored, err := st.Get("agent-a")
	require.NoError(t, err)
	assert.Equal(t, ctx.Version+1, stored.Version, "synchronize ticks the snapshot")

	require.Len(t, transport.deliveries("agent-b"), 1)
	require.Len(t, transport.deliveries("agent-c"), 1)
	update := transport.deliveries("agent-b")[0]
	assert.Equal(t, core.UpdateOpMerge, update.Operation)
	assert.Empty(t, update.FieldPath, "whole snapshots travel as root merges")
}

func TestSynchronize_PartialFailure(t *testing.T) {
	transport := newRecordingTransport()
	transport.failFor["agent-c"] = true
	s, _ := newTestSynchronizer(t, transport)

	ctx := testutil.NewContextBuilder("agent-a").SharedWith("agent-b", "agent-c").Build()

	res := s.Synchronize(context.Background(), "agent-a", ctx, ModeRealtime)
	require.True(t, res.Success, "partial failure never fails the call")

	data := res.Data.(map[string]any)
	assert.Equal(t, 1, data["propagated"])
	assert.Equal(t, []string{"agent-c"}, data["failed_peers"])
}

func TestSynchronize_EventualQueuesAndDrains(t *testing.T) {
	transport := newRecordingTransport()
	s, _ := newTestSynchronizer(t, transport)

	ctx := testutil.NewContextBuilder("agent-a").SharedWith("agent-b").Build()

	res := s.Synchronize(context.Background(), "agent-a", ctx, ModeEventual)
	require.True(t, res.Success)
	assert.Empty(t, transport.deliveries("agent-b"), "eventual mode defers propagation")
	assert.Equal(t, 1, s.QueueLength())

	s.DrainQueue(context.Background())
	assert.Len(t, transport.deliveries("agent-b"), 1)
	assert.Equal(t, 0, s.QueueLength())

	// Draining again delivers nothing: each queued update is consumed once.
	s.DrainQueue(context.Background())
	assert.Len(t, transport.deliveries("agent-b"), 1)
}

func TestSynchronize_ManualNoPropagation(t *testing.T) {
	transport := newRecordingTransport()
	s, st := newTestSynchronizer(t, transport)

	ctx := testutil.NewContextBuilder("agent-a").SharedWith("agent-b").Build()

	res := s.Synchronize(context.Background(), "agent-a", ctx, ModeManual)
	require.True(t, res.Success)
	assert.Empty(t, transport.deliveries("agent-b"))
	assert.Equal(t, 0, s.QueueLength())

	_, err := st.Get("agent-a")
	assert.NoError(t, err, "manual mode still stores locally")
}

func TestSynchronize_UnknownMode(t *testing.T) {
	s, _ := newTestSynchronizer(t, newRecordingTransport())

	res := s.Synchronize(context.Background(), "agent-a", testutil.NewContextBuilder("agent-a").Build(), "psychic")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrUnknownMode)
}

func TestSynchronize_UpdatesStateAndHistory(t *testing.T) {
	s, _ := newTestSynchronizer(t, newRecordingTransport())

	ctx := testutil.NewContextBuilder("agent-a").Build()
	require.True(t, s.Synchronize(context.Background(), "agent-a", ctx, ModeRealtime).Success)

	state, ok := s.State("agent-a")
	require.True(t, ok)
	assert.True(t, state.IsHealthy)
	assert.Equal(t, ModeRealtime, state.Mode)
	assert.False(t, state.LastSyncTime.IsZero())

	history := s.History("agent-a")
	require.Len(t, history, 1)
	assert.Equal(t, ctx.Version+1, history[0].Version)
}

func TestSynchronize_HistoryBounded(t *testing.T) {
	st := store.NewInMemoryStore()
	s := New(st, func(o *Options) {
		o.Config.MaxEventHistory = 3
	})

	ctx := testutil.NewContextBuilder("agent-a").Build()
	for i := 0; i < 5; i++ {
		require.True(t, s.Synchronize(context.Background(), "agent-a", ctx, ModeManual).Success)
	}

	assert.Len(t, s.History("agent-a"), 3)
}

func TestPartition_ForcesManualMode(t *testing.T) {
	transport := newRecordingTransport()
	s, _ := newTestSynchronizer(t, transport)

	res := s.HandlePartition("part-1", []string{"agent-a", "agent-b"})
	require.True(t, res.Success)

	state, ok := s.State("agent-a")
	require.True(t, ok)
	assert.Equal(t, ModeManual, state.Mode)
	assert.False(t, state.IsHealthy)

	// Even an explicit realtime request is downgraded while partitioned.
	ctx := testutil.NewContextBuilder("agent-a").SharedWith("agent-c").Build()
	sync := s.Synchronize(context.Background(), "agent-a", ctx, ModeRealtime)
	require.True(t, sync.Success)
	assert.Equal(t, "manual", sync.Data.(map[string]any)["mode"])
	assert.Empty(t, transport.deliveries("agent-c"))
}

func TestRecoverFromPartition(t *testing.T) {
	s, st := newTestSynchronizer(t, newRecordingTransport())

	older := testutil.NewContextBuilder("agent-a").
		Field("status", "stale").Version(3).Clock("agent-a", 3).Build()
	newer := testutil.NewContextBuilder("agent-b").
		Field("status", "fresh").Version(7).Clock("agent-b", 7).Build()
	require.NoError(t, st.Put(older))
	require.NoError(t, st.Put(newer))

	require.True(t, s.HandlePartition("part-1", []string{"agent-a", "agent-b"}).Success)

	res := s.RecoverFromPartition(context.Background(), "part-1", []string{"agent-a", "agent-b"})
	require.True(t, res.Success)

	recoveredA, err := st.Get("agent-a")
	require.NoError(t, err)
	assert.Equal(t, "fresh", recoveredA.Fields["status"], "higher version wins wholesale")
	assert.Equal(t, int64(8), recoveredA.Version, "version is max+1")
	assert.Equal(t, int64(3), recoveredA.VectorClock.Counter("agent-a"), "clocks reconcile per-agent max")
	assert.Equal(t, int64(7), recoveredA.VectorClock.Counter("agent-b"))

	state, ok := s.State("agent-a")
	require.True(t, ok)
	assert.True(t, state.IsHealthy)

	partition, err := s.Partition("part-1")
	require.NoError(t, err)
	assert.False(t, partition.IsActive)

	// A second recovery of the same partition fails: it is no longer active.
	again := s.RecoverFromPartition(context.Background(), "part-1", []string{"agent-a"})
	assert.False(t, again.Success)
	assert.ErrorIs(t, again.Err, ErrPartitionInactive)
}

func TestRecoverFromPartition_Unknown(t *testing.T) {
	s, _ := newTestSynchronizer(t, newRecordingTransport())

	res := s.RecoverFromPartition(context.Background(), "nope", []string{"agent-a"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPartitionNotFound)
}
