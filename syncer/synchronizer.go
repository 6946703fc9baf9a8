package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/aggregate"
	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// Mode selects how a synchronized context is propagated to shared peers.
type Mode string

const (
	// ModeRealtime pushes to every shared peer immediately.
	ModeRealtime Mode = "realtime"
	// ModeEventual enqueues propagation for the background drain.
	ModeEventual Mode = "eventual"
	// ModeManual stores locally without any automatic propagation.
	ModeManual Mode = "manual"
)

// Valid reports whether the mode is one of the defined synchronization modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRealtime, ModeEventual, ModeManual:
		return true
	default:
		return false
	}
}

// Config defines tuning parameters for the Synchronizer.
type Config struct {
	// DefaultMode applies when Synchronize is called with an empty mode.
	DefaultMode Mode

	// SyncTimeout bounds each peer delivery and defines the staleness
	// threshold for the health sweep.
	SyncTimeout time.Duration

	// HeartbeatInterval drives the health sweep cadence (sweep runs every
	// 2x this interval).
	HeartbeatInterval time.Duration

	// BatchInterval is the drain cadence for eventual-mode queues.
	BatchInterval time.Duration

	// MaxEventHistory bounds the per-agent causal event history.
	MaxEventHistory int

	// MaxBatchQueue bounds the eventual-mode queue; the oldest entry is
	// dropped (and logged) when full.
	MaxBatchQueue int
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	DefaultMode:       ModeRealtime,
	SyncTimeout:       30 * time.Second,
	HeartbeatInterval: 10 * time.Second,
	BatchInterval:     5 * time.Second,
	MaxEventHistory:   100,
	MaxBatchQueue:     1000,
}

// AgentSyncState tracks one agent's synchronization health.
type AgentSyncState struct {
	AgentID       string    `json:"agent_id"`
	Mode          Mode      `json:"mode"`
	LastSyncTime  time.Time `json:"last_sync_time"`
	IsHealthy     bool      `json:"is_healthy"`
	ConflictCount int       `json:"conflict_count"`
}

// CausalEvent is one entry of the bounded per-agent causal history recording
// the clock state each synchronization produced.
type CausalEvent struct {
	EventID     string           `json:"event_id"`
	AgentID     string           `json:"agent_id"`
	Version     int64            `json:"version"`
	VectorClock core.VectorClock `json:"vector_clock"`
	Timestamp   time.Time        `json:"timestamp"`
}

type queuedPropagation struct {
	update  core.ContextUpdate
	targets []string
}

// Options configures a Synchronizer instance.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Store persists context snapshots. Required.
	Store core.ContextStore

	// Transport delivers updates to peers. Defaults to NoOpTransport.
	Transport core.Transport

	// Aggregator merges whole agent groups on demand. May be nil; then
	// AggregateGroup is unavailable.
	Aggregator *aggregate.Aggregator

	// Bus receives sync/partition lifecycle events. May be nil.
	Bus *core.EventBus

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Synchronizer propagates context updates, tracks per-agent health and
// handles partition declaration and recovery. Concurrent Synchronize calls
// for different agents are safe; calls for the same agent must be serialized
// by the caller.
type Synchronizer struct {
	mu         sync.RWMutex
	config     Config
	store      core.ContextStore
	transport  core.Transport
	aggregator *aggregate.Aggregator
	bus        *core.EventBus
	logger     logging.Logger

	states     map[string]*AgentSyncState
	history    map[string][]CausalEvent
	queue      []queuedPropagation
	partitions map[string]*core.NetworkPartition
}

// New creates a Synchronizer with optional configuration overrides.
func New(store core.ContextStore, optFns ...func(o *Options)) *Synchronizer {
	opts := Options{
		Config:    DefaultConfig,
		Store:     store,
		Transport: core.NoOpTransport{},
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Transport == nil {
		opts.Transport = core.NoOpTransport{}
	}

	return &Synchronizer{
		config:     opts.Config,
		store:      opts.Store,
		transport:  opts.Transport,
		aggregator: opts.Aggregator,
		bus:        opts.Bus,
		logger:     opts.Logger,
		states:     map[string]*AgentSyncState{},
		history:    map[string][]CausalEvent{},
		partitions: map[string]*core.NetworkPartition{},
	}
}

// Synchronize stores the context locally, ticks its clock, records a causal
// event and propagates per mode. An agent inside an active partition is
// forced to manual regardless of the requested mode. Per-peer delivery
// failures are logged and listed in the result data, never failing the call.
func (s *Synchronizer) Synchronize(ctx context.Context, agentID string, agentCtx *core.AgentContext, mode Mode) core.Result {
	const op = "syncer.synchronize"
	start := time.Now()

	if mode == "" {
		mode = s.modeFor(agentID)
	}
	if !mode.Valid() {
		return core.Fail(op, fmt.Errorf("%w: %q", ErrUnknownMode, mode))
	}
	if s.isPartitioned(agentID) {
		mode = ModeManual
	}

	snapshot := agentCtx.Clone()
	snapshot.Touch()

	if err := s.store.Put(snapshot); err != nil {
		return core.Fail(op, fmt.Errorf("store context: %w", err))
	}

	s.appendCausalEvent(snapshot)

	update := core.NewSnapshotUpdate(snapshot)
	targets := make([]string, 0, len(snapshot.SharedWith))
	for target := range snapshot.SharedWith {
		if target != agentID {
			targets = append(targets, target)
		}
	}

	var failed []string
	switch mode {
	case ModeRealtime:
		failed = s.propagate(ctx, update, targets)
	case ModeEventual:
		s.enqueue(update, targets)
	case ModeManual:
		// No automatic propagation.
	}

	now := time.Now().UTC()
	s.mu.Lock()
	state := s.stateLocked(agentID)
	state.LastSyncTime = now
	state.IsHealthy = true
	state.Mode = mode
	s.mu.Unlock()

	s.emit(core.NewCoordinationEvent(core.EventContextSynced, agentID).
		WithPayload("version", snapshot.Version).
		WithPayload("mode", string(mode)).
		WithPayload("targets", len(targets)))
	s.logger.Debug("synchronized agent=%s mode=%s peers=%d failed=%d took=%s",
		agentID, mode, len(targets), len(failed), time.Since(start))

	return core.OK(op, map[string]any{
		"agent_id":     agentID,
		"version":      snapshot.Version,
		"mode":         string(mode),
		"propagated":   len(targets) - len(failed),
		"failed_peers": failed,
	})
}

// DrainQueue delivers all queued eventual-mode propagations. Each queued
// update is consumed exactly once; failed deliveries are logged and dropped.
func (s *Synchronizer) DrainQueue(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, q := range pending {
		if failed := s.propagate(ctx, q.update, q.targets); len(failed) > 0 {
			s.logger.Warn("batch propagation update=%s failed peers=%v", q.update.UpdateID, failed)
		}
	}
}

// QueueLength returns the number of pending eventual-mode propagations.
func (s *Synchronizer) QueueLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// State returns a copy of the sync state for agentID.
func (s *Synchronizer) State(agentID string) (AgentSyncState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[agentID]; ok {
		return *st, true
	}
	return AgentSyncState{}, false
}

// History returns a copy of the causal event history for agentID.
func (s *Synchronizer) History(agentID string) []CausalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CausalEvent, len(s.history[agentID]))
	copy(out, s.history[agentID])
	return out
}

// IncrementConflictCount bumps the conflict counter for agentID.
func (s *Synchronizer) IncrementConflictCount(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateLocked(agentID).ConflictCount++
}

// AggregateGroup aggregates the stored contexts of the given agents using
// the wired aggregator.
func (s *Synchronizer) AggregateGroup(ctx context.Context, agentIDs []string, cfg aggregate.Config) (*core.AgentContext, error) {
	if s.aggregator == nil {
		return nil, fmt.Errorf("no aggregator configured")
	}
	contexts := make([]*core.AgentContext, 0, len(agentIDs))
	for _, id := range agentIDs {
		c, err := s.store.Get(id)
		if err != nil {
			s.logger.Warn("aggregate group: skipping agent %s: %v", id, err)
			continue
		}
		contexts = append(contexts, c)
	}
	return s.aggregator.Aggregate(ctx, contexts, cfg)
}

// RegisterSweeps attaches the health sweep and batch drain to the scheduler.
func (s *Synchronizer) RegisterSweeps(scheduler *core.Scheduler) error {
	if err := scheduler.Every("syncer.health_sweep", 2*s.config.HeartbeatInterval, s.SweepHealth); err != nil {
		return err
	}
	return scheduler.Every("syncer.batch_drain", s.config.BatchInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.SyncTimeout)
		defer cancel()
		s.DrainQueue(ctx)
	})
}

// SweepHealth flags agents whose last synchronization is older than the sync
// timeout. This signals degradation only; partition declaration remains a
// separate, caller-driven action.
func (s *Synchronizer) SweepHealth() {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, state := range s.states {
		if state.IsHealthy && now.Sub(state.LastSyncTime) > s.config.SyncTimeout {
			state.IsHealthy = false
			s.logger.Warn("agent %s unresponsive for %s, marking unhealthy", id, now.Sub(state.LastSyncTime))
		}
	}
}

// propagate fans the update out to all targets concurrently, each delivery
// bounded by the sync timeout. All deliveries settle before returning; the
// returned slice lists the peers that failed.
func (s *Synchronizer) propagate(ctx context.Context, update core.ContextUpdate, targets []string) []string {
	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	failedCh := make(chan string, len(targets))

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
			defer cancel()
			if err := s.transport.Send(sendCtx, target, update); err != nil {
				s.logger.Warn("propagation to %s failed: %v", target, err)
				failedCh <- target
			}
		}(target)
	}

	wg.Wait()
	close(failedCh)

	var failed []string
	for target := range failedCh {
		failed = append(failed, target)
	}
	return failed
}

func (s *Synchronizer) enqueue(update core.ContextUpdate, targets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= s.config.MaxBatchQueue {
		dropped := s.queue[0]
		s.queue = s.queue[1:]
		s.logger.Warn("batch queue full, dropping oldest update %s", dropped.update.UpdateID)
	}
	s.queue = append(s.queue, queuedPropagation{update: update, targets: targets})
}

func (s *Synchronizer) appendCausalEvent(snapshot *core.AgentContext) {
	ev := CausalEvent{
		EventID:     core.NewID(),
		AgentID:     snapshot.AgentID,
		Version:     snapshot.Version,
		VectorClock: snapshot.VectorClock.Clone(),
		Timestamp:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.history[snapshot.AgentID], ev)
	if len(events) > s.config.MaxEventHistory {
		events = events[len(events)-s.config.MaxEventHistory:]
	}
	s.history[snapshot.AgentID] = events
}

func (s *Synchronizer) modeFor(agentID string) Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[agentID]; ok && state.Mode != "" {
		return state.Mode
	}
	if s.config.DefaultMode != "" {
		return s.config.DefaultMode
	}
	return ModeRealtime
}

func (s *Synchronizer) isPartitioned(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partitions {
		if p.IsActive && p.Contains(agentID) {
			return true
		}
	}
	return false
}

// stateLocked returns (allocating if needed) the state entry for agentID.
// Caller must hold the write lock.
func (s *Synchronizer) stateLocked(agentID string) *AgentSyncState {
	state, ok := s.states[agentID]
	if !ok {
		state = &AgentSyncState{AgentID: agentID, Mode: s.config.DefaultMode, IsHealthy: true}
		s.states[agentID] = state
	}
	return state
}

func (s *Synchronizer) emit(ev core.CoordinationEvent) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
