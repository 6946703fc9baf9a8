package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"

	"github.com/hupe1980/contextmesh/conflict"
	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// Strategy selects how surviving fields are merged.
type Strategy string

const (
	// StrategyUnion fills missing fields from later inputs; the first writer
	// of a field keeps priority.
	StrategyUnion Strategy = "union"
	// StrategyIntersection keeps only fields present in every input.
	StrategyIntersection Strategy = "intersection"
	// StrategyWeightedMerge averages numeric fields by per-agent weight and
	// falls back to union behavior for non-numeric fields.
	StrategyWeightedMerge Strategy = "weighted_merge"
	// StrategyPriorityBased uses the highest-priority input as base and
	// back-fills missing fields from lower-priority inputs.
	StrategyPriorityBased Strategy = "priority_based"
	// StrategyConsensusBased keeps a field value only when a strict majority
	// of inputs agree on it, otherwise the base input's value is kept.
	StrategyConsensusBased Strategy = "consensus_based"
	// StrategyCustom delegates field merging to the caller function.
	StrategyCustom Strategy = "custom"
)

// ErrNoContexts indicates every input was nil or filtered out by age.
var ErrNoContexts = errors.New("no contexts to aggregate")

// Config controls a single aggregation run.
type Config struct {
	// Strategy defaults to StrategyUnion.
	Strategy Strategy

	// MaxContextAge filters out inputs whose LastModified is older. Zero
	// disables the filter.
	MaxContextAge time.Duration

	// Weights holds per-agent weights for weighted merges (default 1).
	Weights map[string]float64

	// Priorities orders inputs for the priority strategy. Unspecified agents
	// default to PriorityMedium.
	Priorities map[string]core.Priority

	// ConflictStrategy resolves detected field conflicts before merging.
	// Defaults to last_writer_wins.
	ConflictStrategy core.ResolutionStrategy

	// TargetAgentID owns the aggregated context. Defaults to the first
	// surviving input's agent.
	TargetAgentID string

	// IncludeMetadata attaches aggregation provenance to the result.
	IncludeMetadata bool

	// Custom merges fields for StrategyCustom.
	Custom func(contexts []*core.AgentContext) (map[string]any, error)
}

// Options configures an Aggregator instance.
type Options struct {
	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Aggregator merges context snapshots using a conflict.Resolver for
// tie-breaks. Aggregation itself is stateless; the resolver carries the
// conflict history. Safe for concurrent use.
type Aggregator struct {
	resolver *conflict.Resolver
	logger   logging.Logger
}

// New creates an Aggregator backed by the given resolver.
func New(resolver *conflict.Resolver, optFns ...func(o *Options)) *Aggregator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Aggregator{resolver: resolver, logger: opts.Logger}
}

// Aggregate merges the given snapshots into a new context. Inputs are never
// mutated; the result is an independent snapshot.
func (a *Aggregator) Aggregate(ctx context.Context, contexts []*core.AgentContext, cfg Config) (*core.AgentContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := a.filterByAge(contexts, cfg.MaxContextAge)
	if len(inputs) == 0 {
		return nil, ErrNoContexts
	}

	if cfg.Strategy == "" {
		cfg.Strategy = StrategyUnion
	}
	if cfg.ConflictStrategy == "" {
		cfg.ConflictStrategy = core.LastWriterWins
	}

	conflicts := a.resolver.DetectConflicts(inputs)
	resolved := map[string]any{}
	var resolvedConflicts []*core.ContextConflict
	for _, c := range conflicts {
		value, err := a.resolver.Resolve(ctx, c, cfg.ConflictStrategy, inputs)
		if err != nil {
			return nil, fmt.Errorf("resolve conflict on %q: %w", c.FieldPath, err)
		}
		if !c.Resolved {
			// Manual strategy parks the conflict; the field falls back to
			// plain merge semantics until resolved externally.
			continue
		}
		resolved[c.FieldPath] = value
		resolvedConflicts = append(resolvedConflicts, c)
	}

	var fields map[string]any
	var err error
	switch cfg.Strategy {
	case StrategyUnion:
		fields = mergeUnion(inputs)
		overlayResolved(fields, resolved)
	case StrategyIntersection:
		fields = mergeIntersection(inputs)
		overlayResolved(fields, resolved)
	case StrategyWeightedMerge:
		fields = a.mergeWeighted(inputs, cfg.Weights)
	case StrategyPriorityBased:
		fields = mergeUnion(sortByPriority(inputs, cfg.Priorities))
		overlayResolved(fields, resolved)
	case StrategyConsensusBased:
		fields = mergeConsensus(inputs)
	case StrategyCustom:
		if cfg.Custom == nil {
			return nil, fmt.Errorf("custom aggregation requires a merge function")
		}
		fields, err = cfg.Custom(inputs)
		if err != nil {
			return nil, fmt.Errorf("custom aggregation: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %q", cfg.Strategy)
	}

	result := a.stampResult(inputs, fields, cfg)
	if cfg.IncludeMetadata {
		sources := make([]string, 0, len(inputs))
		for _, in := range inputs {
			sources = append(sources, in.AgentID)
		}
		result.Metadata = map[string]any{
			"strategy":          string(cfg.Strategy),
			"sourceAgents":      sources,
			"conflictsResolved": len(resolvedConflicts),
			"resolvedConflicts": resolvedConflicts,
		}
	}

	return result, nil
}

func (a *Aggregator) filterByAge(contexts []*core.AgentContext, maxAge time.Duration) []*core.AgentContext {
	now := time.Now().UTC()
	out := make([]*core.AgentContext, 0, len(contexts))
	for _, c := range contexts {
		if c == nil {
			continue
		}
		if maxAge > 0 && c.Age(now) > maxAge {
			a.logger.Debug("aggregation skipping stale context agent=%s age=%s", c.AgentID, c.Age(now))
			continue
		}
		out = append(out, c)
	}
	return out
}

func (a *Aggregator) stampResult(inputs []*core.AgentContext, fields map[string]any, cfg Config) *core.AgentContext {
	agentID := cfg.TargetAgentID
	if agentID == "" {
		agentID = inputs[0].AgentID
	}

	var maxVersion int64
	clock := core.NewVectorClock()
	for i, in := range inputs {
		if in.Version > maxVersion {
			maxVersion = in.Version
		}
		if i == 0 {
			clock = in.VectorClock.Clone()
		} else {
			clock = clock.Merge(in.VectorClock)
		}
	}

	if fields == nil {
		fields = map[string]any{}
	}

	return &core.AgentContext{
		AgentID:      agentID,
		Version:      maxVersion + 1,
		LastModified: time.Now().UTC(),
		SharedWith:   map[string]bool{},
		Permissions:  []core.Permission{},
		VectorClock:  clock,
		Fields:       fields,
	}
}

// mergeUnion fills each field from the first input that holds it.
func mergeUnion(inputs []*core.AgentContext) map[string]any {
	out := map[string]any{}
	for _, in := range inputs {
		for k, v := range in.Fields {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

// mergeIntersection keeps fields present in every input, valued from the first.
func mergeIntersection(inputs []*core.AgentContext) map[string]any {
	out := map[string]any{}
	for k, v := range inputs[0].Fields {
		inAll := true
		for _, in := range inputs[1:] {
			if _, held := in.Fields[k]; !held {
				inAll = false
				break
			}
		}
		if inAll {
			out[k] = v
		}
	}
	return out
}

// mergeWeighted averages fields that are numeric in every holding input,
// weighting each agent's value (default weight 1). Non-numeric fields keep
// union semantics.
func (a *Aggregator) mergeWeighted(inputs []*core.AgentContext, weights map[string]float64) map[string]any {
	type sample struct {
		agentID string
		value   any
	}
	samples := map[string][]sample{}
	for _, in := range inputs {
		for k, v := range in.Fields {
			samples[k] = append(samples[k], sample{agentID: in.AgentID, value: v})
		}
	}

	out := map[string]any{}
	for field, ss := range samples {
		numeric := true
		var weightedSum, weightSum float64
		for _, s := range ss {
			f, err := cast.ToFloat64E(s.value)
			if err != nil {
				numeric = false
				break
			}
			w, ok := weights[s.agentID]
			if !ok {
				w = 1
			}
			weightedSum += f * w
			weightSum += w
		}
		if numeric && weightSum > 0 {
			out[field] = weightedSum / weightSum
		} else {
			out[field] = ss[0].value
		}
	}
	return out
}

// mergeConsensus keeps a field value only when held identically by a strict
// majority (>N/2) of inputs; otherwise the base (first) input's value is kept.
func mergeConsensus(inputs []*core.AgentContext) map[string]any {
	n := len(inputs)
	counts := map[string]map[string]int{}
	values := map[string]map[string]any{}
	for _, in := range inputs {
		for field, v := range in.Fields {
			key := core.CanonicalValue(v)
			if counts[field] == nil {
				counts[field] = map[string]int{}
				values[field] = map[string]any{}
			}
			counts[field][key]++
			if _, seen := values[field][key]; !seen {
				values[field][key] = v
			}
		}
	}

	base := inputs[0]
	out := map[string]any{}
	for field, byValue := range counts {
		chosen := false
		for key, count := range byValue {
			if count*2 > n {
				out[field] = values[field][key]
				chosen = true
				break
			}
		}
		if !chosen {
			if v, held := base.Fields[field]; held {
				out[field] = v
			}
		}
	}
	return out
}

// sortByPriority orders inputs by descending priority (stable; unspecified
// agents default to PriorityMedium).
func sortByPriority(inputs []*core.AgentContext, priorities map[string]core.Priority) []*core.AgentContext {
	sorted := make([]*core.AgentContext, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityOf(sorted[i].AgentID, priorities) > priorityOf(sorted[j].AgentID, priorities)
	})
	return sorted
}

func priorityOf(agentID string, priorities map[string]core.Priority) core.Priority {
	if p, ok := priorities[agentID]; ok {
		return p
	}
	return core.PriorityMedium
}

func overlayResolved(fields map[string]any, resolved map[string]any) {
	for field, value := range resolved {
		if _, present := fields[field]; present {
			fields[field] = value
		}
	}
}
