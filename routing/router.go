package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// Strategy selects how the filtered candidate pool is scored.
type Strategy string

const (
	// StrategyCapability scores by capability count times availability and
	// returns the top quarter of the pool (at least one agent).
	StrategyCapability Strategy = "capability_based"
	// StrategyProximity scores by proximity to the context owner times
	// availability, returning all sufficiently close agents or the single
	// best.
	StrategyProximity Strategy = "proximity_based"
	// StrategyLoadBalanced blends utilization, response time and
	// availability, excluding overloaded agents where possible.
	StrategyLoadBalanced Strategy = "load_balanced"
	// StrategyCustom delegates selection to the caller function.
	StrategyCustom Strategy = "custom"
)

// ErrNoEligibleAgents indicates the filtered candidate pool was empty.
var ErrNoEligibleAgents = errors.New("no eligible agents")

// Config defines tuning parameters for the Router.
type Config struct {
	// Strategy defaults to StrategyCapability.
	Strategy Strategy

	// HealthWindow excludes agents not seen within this window.
	HealthWindow time.Duration

	// MinAvailability excludes agents below this availability.
	MinAvailability float64

	// OverloadThreshold excludes agents at or above this utilization for
	// load-balanced routing (unless every candidate qualifies).
	OverloadThreshold float64

	// ProximityThreshold is the minimum proximity for inclusion under
	// proximity routing before falling back to the single best agent.
	ProximityThreshold float64

	// LoadCapacity normalizes load units to a utilization in [0,1].
	LoadCapacity float64

	// DecayInterval is the cadence of the load decay task (one unit drains
	// per tick).
	DecayInterval time.Duration
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	Strategy:           StrategyCapability,
	HealthWindow:       5 * time.Minute,
	MinAvailability:    0.1,
	OverloadThreshold:  0.8,
	ProximityThreshold: 0.3,
	LoadCapacity:       10,
	DecayInterval:      time.Second,
}

// CustomSelector selects target agent ids from the filtered candidate pool.
type CustomSelector func(candidates []core.AgentProfile, context *core.AgentContext) []string

// Options configures a Router instance.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Custom is required when Config.Strategy is StrategyCustom.
	Custom CustomSelector

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Router maintains the agent registry and routes contexts to targets. Safe
// for concurrent use.
type Router struct {
	mu       sync.RWMutex
	config   Config
	profiles map[string]core.AgentProfile
	load     map[string]float64
	custom   CustomSelector
	logger   logging.Logger
}

// New creates a Router with optional configuration overrides.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{Config: DefaultConfig, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	cfg := opts.Config
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCapability
	}
	if cfg.LoadCapacity <= 0 {
		cfg.LoadCapacity = DefaultConfig.LoadCapacity
	}

	return &Router{
		config:   cfg,
		profiles: map[string]core.AgentProfile{},
		load:     map[string]float64{},
		custom:   opts.Custom,
		logger:   opts.Logger,
	}
}

// RegisterAgent adds or replaces an agent profile. A zero LastSeen is
// stamped with the current time.
func (r *Router) RegisterAgent(profile core.AgentProfile) {
	if profile.LastSeen.IsZero() {
		profile.LastSeen = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.AgentID] = profile.Clone()
}

// UpdateAgentStatus refreshes an agent's availability, response time and
// last-seen timestamp.
func (r *Router) UpdateAgentStatus(agentID string, availability float64, responseTime time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrNotFound)
	}
	profile.Availability = availability
	profile.ResponseTime = responseTime
	profile.LastSeen = time.Now().UTC()
	r.profiles[agentID] = profile
	return nil
}

// Utilization returns the current normalized utilization for agentID.
func (r *Router) Utilization(agentID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.utilizationLocked(agentID)
}

// ReleaseLoad drains one load unit for agentID, the explicit completion
// signal preferred over passive decay.
func (r *Router) ReleaseLoad(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.load[agentID] > 0 {
		r.load[agentID]--
	}
}

// RouteContext selects target agents for the given context. The pool is
// filtered to healthy, minimally available agents holding every required
// capability (AND) and not excluded, then scored per the configured strategy.
// Each selected target accrues one load unit.
func (r *Router) RouteContext(ctx context.Context, agentCtx *core.AgentContext, requiredCapabilities []string, excludeAgents []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := r.eligibleCandidates(requiredCapabilities, excludeAgents)
	if len(candidates) == 0 {
		return nil, ErrNoEligibleAgents
	}

	var targets []string
	switch r.config.Strategy {
	case StrategyCapability:
		targets = r.selectByCapability(candidates)
	case StrategyProximity:
		targets = r.selectByProximity(candidates, agentCtx.AgentID)
	case StrategyLoadBalanced:
		targets = r.selectByLoad(candidates)
	case StrategyCustom:
		if r.custom == nil {
			return nil, fmt.Errorf("custom routing requires a selector")
		}
		targets = r.custom(candidates, agentCtx)
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", r.config.Strategy)
	}

	if len(targets) == 0 {
		return nil, ErrNoEligibleAgents
	}

	r.mu.Lock()
	for _, id := range targets {
		r.load[id]++
	}
	r.mu.Unlock()

	r.logger.Debug("routed context agent=%s strategy=%s targets=%d", agentCtx.AgentID, r.config.Strategy, len(targets))
	return targets, nil
}

// RegisterSweeps attaches the load decay task to the scheduler.
func (r *Router) RegisterSweeps(scheduler *core.Scheduler) error {
	interval := r.config.DecayInterval
	if interval <= 0 {
		interval = DefaultConfig.DecayInterval
	}
	return scheduler.Every("routing.load_decay", interval, r.DecayLoad)
}

// DecayLoad drains one load unit from every agent.
func (r *Router) DecayLoad() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, units := range r.load {
		if units <= 1 {
			delete(r.load, id)
		} else {
			r.load[id] = units - 1
		}
	}
}

type scored struct {
	profile core.AgentProfile
	score   float64
}

func (r *Router) eligibleCandidates(requiredCapabilities []string, excludeAgents []string) []core.AgentProfile {
	excluded := make(map[string]bool, len(excludeAgents))
	for _, id := range excludeAgents {
		excluded[id] = true
	}
	cutoff := time.Now().UTC().Add(-r.config.HealthWindow)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.AgentProfile
	for _, p := range r.profiles {
		if excluded[p.AgentID] {
			continue
		}
		if p.LastSeen.Before(cutoff) {
			continue
		}
		if p.Availability < r.config.MinAvailability {
			continue
		}
		if !p.HasAllCapabilities(requiredCapabilities) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// selectByCapability returns the top quarter of the pool (at least one) by
// capability count times availability.
func (r *Router) selectByCapability(candidates []core.AgentProfile) []string {
	ranked := make([]scored, len(candidates))
	for i, p := range candidates {
		ranked[i] = scored{profile: p, score: float64(len(p.Capabilities)) * p.Availability}
	}
	sortScored(ranked)

	take := int(math.Ceil(float64(len(ranked)) * 0.25))
	if take < 1 {
		take = 1
	}
	return agentIDs(ranked[:take])
}

// selectByProximity returns every candidate at or above the proximity
// threshold relative to the context owner, or the single best-scoring one
// when none qualify.
func (r *Router) selectByProximity(candidates []core.AgentProfile, ownerID string) []string {
	ranked := make([]scored, len(candidates))
	var qualified []scored
	for i, p := range candidates {
		proximity := p.ProximityTo(ownerID)
		ranked[i] = scored{profile: p, score: proximity * p.Availability}
		if proximity >= r.config.ProximityThreshold {
			qualified = append(qualified, ranked[i])
		}
	}

	if len(qualified) > 0 {
		sortScored(qualified)
		return agentIDs(qualified)
	}

	sortScored(ranked)
	return agentIDs(ranked[:1])
}

// selectByLoad scores candidates by 0.4*(1-utilization) + 0.3*(1/respSec) +
// 0.3*availability. Overloaded agents are excluded unless every candidate is
// overloaded, in which case only the least-loaded one is returned; otherwise
// the top half of the remaining pool is selected.
func (r *Router) selectByLoad(candidates []core.AgentProfile) []string {
	r.mu.RLock()
	utilization := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		utilization[p.AgentID] = r.utilizationLocked(p.AgentID)
	}
	r.mu.RUnlock()

	var healthy []core.AgentProfile
	for _, p := range candidates {
		if utilization[p.AgentID] < r.config.OverloadThreshold {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		// Everyone is overloaded: hand back the least-loaded agent only.
		least := candidates[0]
		for _, p := range candidates[1:] {
			if utilization[p.AgentID] < utilization[least.AgentID] {
				least = p
			}
		}
		return []string{least.AgentID}
	}

	ranked := make([]scored, len(healthy))
	for i, p := range healthy {
		respSec := cast.ToFloat64(p.ResponseTime.Seconds())
		if respSec <= 0 {
			respSec = 1
		}
		score := 0.4*(1-utilization[p.AgentID]) + 0.3*(1/respSec) + 0.3*p.Availability
		ranked[i] = scored{profile: p, score: score}
	}
	sortScored(ranked)

	take := int(math.Ceil(float64(len(ranked)) * 0.5))
	if take < 1 {
		take = 1
	}
	return agentIDs(ranked[:take])
}

// utilizationLocked normalizes load units to [0,1]. Caller must hold a lock.
func (r *Router) utilizationLocked(agentID string) float64 {
	u := r.load[agentID] / r.config.LoadCapacity
	if u > 1 {
		return 1
	}
	return u
}

// sortScored orders by descending score with lexical agent id tie-break so
// routing is deterministic.
func sortScored(ranked []scored) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].profile.AgentID < ranked[j].profile.AgentID
	})
}

func agentIDs(ranked []scored) []string {
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.profile.AgentID
	}
	return out
}
