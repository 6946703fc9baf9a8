package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// SelectionFunc picks the leader from the eligible candidate set. Candidates
// are passed in the caller-supplied order.
type SelectionFunc func(groupID string, candidates []string) string

// ElectionCriteria steers one election.
type ElectionCriteria struct {
	// PreferredLeader wins outright when it appears in the candidate set.
	PreferredLeader string
}

// Config defines tuning parameters for the Coordinator.
type Config struct {
	// HeartbeatInterval is the expected leader heartbeat cadence and the
	// cadence of the failover sweep.
	HeartbeatInterval time.Duration

	// ElectionTimeout is the heartbeat staleness bound. A leader silent for
	// longer is considered failed.
	ElectionTimeout time.Duration

	// SyncTimeout bounds each per-follower transport delivery.
	SyncTimeout time.Duration

	// LoadThreshold excludes heavily loaded candidates from default
	// selection when a utilization source is configured.
	LoadThreshold float64
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	HeartbeatInterval: 5 * time.Second,
	ElectionTimeout:   15 * time.Second,
	SyncTimeout:       30 * time.Second,
	LoadThreshold:     0.8,
}

// Options configures a Coordinator instance.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Transport delivers updates to followers. Defaults to NoOpTransport.
	Transport core.Transport

	// Selection replaces the default candidate selection. The default picks
	// the first candidate under the load threshold (first overall when no
	// utilization source is set or every candidate is loaded).
	Selection SelectionFunc

	// Utilization optionally reports a candidate's current load in [0,1],
	// typically routing.Router.Utilization.
	Utilization func(agentID string) float64

	// Bus receives election and failover events. Optional.
	Bus *core.EventBus

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

type group struct {
	leader    core.LeaderStatus
	followers map[string]*core.FollowerStatus
	// failing guards failover so one staleness triggers exactly one
	// re-election even with overlapping sweeps.
	failing bool
}

// Coordinator manages leader-follower groups over a shared context store.
// Safe for concurrent use.
type Coordinator struct {
	mu          sync.RWMutex
	config      Config
	groups      map[string]*group
	store       core.ContextStore
	transport   core.Transport
	selection   SelectionFunc
	utilization func(string) float64
	bus         *core.EventBus
	logger      logging.Logger
}

// New creates a Coordinator reading leader contexts from store.
func New(store core.ContextStore, optFns ...func(o *Options)) *Coordinator {
	opts := Options{Config: DefaultConfig, Transport: core.NoOpTransport{}, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Transport == nil {
		opts.Transport = core.NoOpTransport{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	cfg := opts.Config
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig.HeartbeatInterval
	}
	if cfg.ElectionTimeout <= 0 {
		cfg.ElectionTimeout = DefaultConfig.ElectionTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultConfig.SyncTimeout
	}
	if cfg.LoadThreshold <= 0 {
		cfg.LoadThreshold = DefaultConfig.LoadThreshold
	}

	c := &Coordinator{
		config:      cfg,
		groups:      map[string]*group{},
		store:       store,
		transport:   opts.Transport,
		selection:   opts.Selection,
		utilization: opts.Utilization,
		bus:         opts.Bus,
		logger:      opts.Logger,
	}
	if c.selection == nil {
		c.selection = c.defaultSelection
	}
	return c
}

// ElectLeader elects a leader for groupID among candidates. An eligible
// preferred leader wins outright; otherwise the selection function decides.
// Remaining candidates become followers and the group's term increases
// strictly, surviving across re-elections.
func (c *Coordinator) ElectLeader(ctx context.Context, groupID string, candidates []string, criteria ElectionCriteria) core.Result {
	const op = "leader.elect"

	if err := ctx.Err(); err != nil {
		return core.Fail(op, err)
	}
	if len(candidates) == 0 {
		return core.Fail(op, fmt.Errorf("group %s: %w", groupID, ErrNoCandidates))
	}

	leaderID := ""
	if criteria.PreferredLeader != "" {
		for _, id := range candidates {
			if id == criteria.PreferredLeader {
				leaderID = id
				break
			}
		}
	}
	if leaderID == "" {
		leaderID = c.selection(groupID, candidates)
	}
	if leaderID == "" {
		leaderID = candidates[0]
	}

	c.mu.Lock()
	status := c.installLeaderLocked(groupID, leaderID, candidates)
	c.mu.Unlock()

	c.logger.Info("leader elected group=%s leader=%s term=%d", groupID, leaderID, status.Term)
	c.emit(core.EventLeaderElected, groupID, leaderID, status.Term)

	return core.OK(op, map[string]any{
		"groupId":   groupID,
		"leader":    leaderID,
		"term":      status.Term,
		"followers": c.followerIDs(groupID),
	})
}

// Heartbeat records a leader liveness signal. A recovered leader becomes
// healthy again if failover has not happened yet.
func (c *Coordinator) Heartbeat(groupID, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s: %w", groupID, ErrGroupNotFound)
	}
	if g.leader.AgentID != agentID {
		return fmt.Errorf("group %s agent %s: %w", groupID, agentID, ErrNotLeader)
	}
	g.leader.LastHeartbeat = time.Now().UTC()
	g.leader.IsHealthy = true
	g.failing = false
	return nil
}

// PropagateUpdate fans the update out from the leader to every follower
// concurrently. Per-follower failures are collected in the result data and
// never fail the whole call.
func (c *Coordinator) PropagateUpdate(ctx context.Context, groupID string, leaderContext *core.AgentContext, update core.ContextUpdate) core.Result {
	const op = "leader.propagate_update"

	c.mu.RLock()
	g, ok := c.groups[groupID]
	if !ok {
		c.mu.RUnlock()
		return core.Fail(op, fmt.Errorf("group %s: %w", groupID, ErrGroupNotFound))
	}
	if g.leader.AgentID != leaderContext.AgentID {
		c.mu.RUnlock()
		return core.Fail(op, fmt.Errorf("group %s agent %s: %w", groupID, leaderContext.AgentID, ErrNotLeader))
	}
	followers := make([]string, 0, len(g.followers))
	for id := range g.followers {
		followers = append(followers, id)
	}
	c.mu.RUnlock()

	type sendResult struct {
		follower string
		err      error
	}

	var wg sync.WaitGroup
	results := make(chan sendResult, len(followers))
	for _, follower := range followers {
		wg.Add(1)
		go func(follower string) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, c.config.SyncTimeout)
			defer cancel()
			results <- sendResult{follower: follower, err: c.transport.Send(sendCtx, follower, update)}
		}(follower)
	}
	wg.Wait()
	close(results)

	failed := map[string]string{}
	var propagated []string
	now := time.Now().UTC()

	c.mu.Lock()
	for res := range results {
		f, ok := g.followers[res.follower]
		if !ok {
			continue
		}
		if res.err != nil {
			failed[res.follower] = res.err.Error()
			f.SyncStatus = core.SyncDisconnected
			f.Lag = leaderContext.Version - f.ContextVersion
			continue
		}
		propagated = append(propagated, res.follower)
		f.ContextVersion = leaderContext.Version
		f.SyncStatus = core.SyncUpToDate
		f.Lag = 0
		f.LastSyncAt = now
	}
	g.leader.ContextVersion = leaderContext.Version
	g.leader.LastHeartbeat = now
	c.mu.Unlock()

	for follower, msg := range failed {
		c.logger.Warn("propagation failed group=%s follower=%s: %s", groupID, follower, msg)
	}

	return core.OK(op, map[string]any{
		"groupId":    groupID,
		"propagated": propagated,
		"failed":     failed,
	})
}

// RequestSync pulls the leader's current context to one follower, catching it
// up on missed versions.
func (c *Coordinator) RequestSync(ctx context.Context, groupID, followerID string) core.Result {
	const op = "leader.request_sync"

	c.mu.Lock()
	g, ok := c.groups[groupID]
	if !ok {
		c.mu.Unlock()
		return core.Fail(op, fmt.Errorf("group %s: %w", groupID, ErrGroupNotFound))
	}
	f, ok := g.followers[followerID]
	if !ok {
		c.mu.Unlock()
		return core.Fail(op, fmt.Errorf("group %s agent %s: %w", groupID, followerID, ErrFollowerNotFound))
	}
	leaderID := g.leader.AgentID
	f.SyncStatus = core.SyncSyncing
	c.mu.Unlock()

	leaderContext, err := c.store.Get(leaderID)
	if err != nil {
		c.setFollowerStatus(groupID, followerID, core.SyncOutdated, 0)
		return core.Fail(op, fmt.Errorf("leader context %s: %w", leaderID, err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.SyncTimeout)
	defer cancel()
	if err := c.transport.Send(sendCtx, followerID, core.NewSnapshotUpdate(leaderContext)); err != nil {
		c.setFollowerStatus(groupID, followerID, core.SyncDisconnected, leaderContext.Version)
		return core.Fail(op, fmt.Errorf("sync follower %s: %w", followerID, err))
	}

	now := time.Now().UTC()
	c.mu.Lock()
	if f, ok := g.followers[followerID]; ok {
		f.ContextVersion = leaderContext.Version
		f.SyncStatus = core.SyncUpToDate
		f.Lag = 0
		f.LastSyncAt = now
	}
	c.mu.Unlock()

	return core.OK(op, map[string]any{
		"groupId":       groupID,
		"followerId":    followerID,
		"leaderVersion": leaderContext.Version,
	})
}

// Leader returns the current leader status for the group.
func (c *Coordinator) Leader(groupID string) (core.LeaderStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupID]
	if !ok {
		return core.LeaderStatus{}, false
	}
	return g.leader, true
}

// Followers returns the follower statuses for the group.
func (c *Coordinator) Followers(groupID string) []core.FollowerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]core.FollowerStatus, 0, len(g.followers))
	for _, f := range g.followers {
		out = append(out, *f)
	}
	return out
}

// RegisterSweeps attaches the failover sweep to the scheduler.
func (c *Coordinator) RegisterSweeps(scheduler *core.Scheduler) error {
	interval := c.config.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig.HeartbeatInterval
	}
	return scheduler.Every("leader.failover_sweep", interval, c.SweepLeaders)
}

// SweepLeaders fails over every group whose leader heartbeat is older than
// the election timeout. Each staleness triggers exactly one failover.
func (c *Coordinator) SweepLeaders() {
	cutoff := time.Now().UTC().Add(-c.config.ElectionTimeout)

	c.mu.Lock()
	var stale []string
	for groupID, g := range c.groups {
		if g.leader.AgentID == "" || g.failing {
			continue
		}
		if g.leader.LastHeartbeat.Before(cutoff) {
			g.failing = true
			g.leader.IsHealthy = false
			stale = append(stale, groupID)
		}
	}
	c.mu.Unlock()

	for _, groupID := range stale {
		c.handleLeaderFailure(groupID)
	}
}

// handleLeaderFailure removes the failed leader and re-elects among the
// remaining followers with a strictly greater term. A group with no
// followers left stays leaderless until the next explicit election.
func (c *Coordinator) handleLeaderFailure(groupID string) {
	c.mu.Lock()
	g, ok := c.groups[groupID]
	if !ok {
		c.mu.Unlock()
		return
	}
	failedLeader := g.leader.AgentID
	term := g.leader.Term

	candidates := make([]string, 0, len(g.followers))
	for id := range g.followers {
		candidates = append(candidates, id)
	}
	c.mu.Unlock()

	c.logger.Warn("leader heartbeat stale group=%s leader=%s term=%d", groupID, failedLeader, term)
	c.emit(core.EventLeaderFailedOver, groupID, failedLeader, term)

	if len(candidates) == 0 {
		c.mu.Lock()
		g.leader.AgentID = ""
		g.failing = false
		c.mu.Unlock()
		return
	}

	newLeader := c.selection(groupID, candidates)
	if newLeader == "" {
		newLeader = candidates[0]
	}

	c.mu.Lock()
	status := c.installLeaderLocked(groupID, newLeader, candidates)
	g.failing = false
	c.mu.Unlock()

	c.logger.Info("leader re-elected group=%s leader=%s term=%d", groupID, newLeader, status.Term)
	c.emit(core.EventLeaderElected, groupID, newLeader, status.Term)
}

// installLeaderLocked replaces the group's leader and follower set, bumping
// the term. Caller must hold the write lock.
func (c *Coordinator) installLeaderLocked(groupID, leaderID string, members []string) core.LeaderStatus {
	g, ok := c.groups[groupID]
	if !ok {
		g = &group{}
		c.groups[groupID] = g
	}

	now := time.Now().UTC()
	leaderVersion := c.contextVersion(leaderID)
	g.leader = core.LeaderStatus{
		GroupID:        groupID,
		AgentID:        leaderID,
		Term:           g.leader.Term + 1,
		ElectedAt:      now,
		LastHeartbeat:  now,
		IsHealthy:      true,
		ContextVersion: leaderVersion,
	}

	g.followers = map[string]*core.FollowerStatus{}
	for _, id := range members {
		if id == leaderID {
			continue
		}
		version := c.contextVersion(id)
		status := core.SyncUpToDate
		if version < leaderVersion {
			status = core.SyncOutdated
		}
		g.followers[id] = &core.FollowerStatus{
			GroupID:        groupID,
			AgentID:        id,
			ContextVersion: version,
			SyncStatus:     status,
			Lag:            leaderVersion - version,
			LastSyncAt:     now,
		}
	}
	return g.leader
}

// defaultSelection picks the first candidate under the load threshold, or
// the first candidate overall when none qualifies.
func (c *Coordinator) defaultSelection(_ string, candidates []string) string {
	if c.utilization != nil {
		for _, id := range candidates {
			if c.utilization(id) < c.config.LoadThreshold {
				return id
			}
		}
	}
	return candidates[0]
}

func (c *Coordinator) contextVersion(agentID string) int64 {
	agentCtx, err := c.store.Get(agentID)
	if err != nil {
		return 0
	}
	return agentCtx.Version
}

func (c *Coordinator) setFollowerStatus(groupID, followerID string, status core.SyncStatus, leaderVersion int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return
	}
	f, ok := g.followers[followerID]
	if !ok {
		return
	}
	f.SyncStatus = status
	if leaderVersion > 0 {
		f.Lag = leaderVersion - f.ContextVersion
	}
}

func (c *Coordinator) followerIDs(groupID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.followers))
	for id := range g.followers {
		out = append(out, id)
	}
	return out
}

func (c *Coordinator) emit(eventType core.CoordinationEventType, groupID, agentID string, term int64) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(core.NewCoordinationEvent(eventType, agentID).
		WithGroup(groupID).
		WithPayload("term", term))
}
