package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// DefaultMaxHistory bounds the retained resolved-conflict history.
const DefaultMaxHistory = 500

// Options configures a Resolver instance.
type Options struct {
	// Priorities maps agent ids to their priority for priority-based
	// resolution. Agents absent from the map default to PriorityMedium.
	Priorities map[string]core.Priority

	// MaxHistory bounds the retained conflict history (defaults to
	// DefaultMaxHistory).
	MaxHistory int

	// Bus receives conflict_detected / conflict_resolved lifecycle events.
	// May be nil.
	Bus *core.EventBus

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Resolver detects value-level conflicts across context snapshots and
// resolves them with a configurable strategy. It also runs the consensus
// voting sub-protocol (see consensus.go). Safe for concurrent use.
type Resolver struct {
	mu          sync.RWMutex
	priorities  map[string]core.Priority
	pending     map[string]*core.ContextConflict
	manualQueue []string
	proposals   map[string]*core.ConsensusProposal
	history     []*core.ContextConflict
	maxHistory  int
	bus         *core.EventBus
	logger      logging.Logger
}

// New creates a Resolver with optional configuration overrides.
func New(optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Priorities: map[string]core.Priority{},
		MaxHistory: DefaultMaxHistory,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}

	return &Resolver{
		priorities: opts.Priorities,
		pending:    map[string]*core.ContextConflict{},
		proposals:  map[string]*core.ConsensusProposal{},
		maxHistory: opts.MaxHistory,
		bus:        opts.Bus,
		logger:     opts.Logger,
	}
}

// SetPriority records an agent's priority for priority-based resolution.
func (r *Resolver) SetPriority(agentID string, p core.Priority) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities[agentID] = p
}

// DetectConflicts compares materialized top-level field values across the
// given snapshots. A field conflicts when at least two agents hold it with
// differing canonical serializations. Detection is value-level only.
func (r *Resolver) DetectConflicts(contexts []*core.AgentContext) []*core.ContextConflict {
	type holder struct {
		agentID string
		value   any
	}
	holders := map[string][]holder{}

	for _, c := range contexts {
		if c == nil {
			continue
		}
		for field, value := range c.Fields {
			holders[field] = append(holders[field], holder{agentID: c.AgentID, value: value})
		}
	}

	fields := make([]string, 0, len(holders))
	for f := range holders {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var conflicts []*core.ContextConflict
	for _, field := range fields {
		hs := holders[field]
		if len(hs) < 2 {
			continue
		}
		distinct := map[string]bool{}
		values := make(map[string]any, len(hs))
		agents := make([]string, 0, len(hs))
		for _, h := range hs {
			distinct[core.CanonicalValue(h.value)] = true
			values[h.agentID] = h.value
			agents = append(agents, h.agentID)
		}
		if len(distinct) < 2 {
			continue
		}
		sort.Strings(agents)

		c := &core.ContextConflict{
			ConflictID:        core.NewID(),
			FieldPath:         field,
			ConflictingAgents: agents,
			Values:            values,
			DetectedAt:        time.Now().UTC(),
		}
		conflicts = append(conflicts, c)
		r.emit(core.NewCoordinationEvent(core.EventConflictDetected, "").
			WithPayload("conflict_id", c.ConflictID).
			WithPayload("field_path", field).
			WithPayload("agents", agents))
	}

	return conflicts
}

// Resolve determines the winning value for a conflict using the given
// strategy. The contexts slice supplies modification times and priorities for
// writer-order and priority strategies. An unknown strategy falls back to
// last_writer_wins with a warning.
//
// Manual resolution does not produce a value: the conflict is enqueued and
// stays unresolved until ManuallyResolveConflict supplies one.
func (r *Resolver) Resolve(ctx context.Context, conflict *core.ContextConflict, strategy core.ResolutionStrategy, contexts []*core.AgentContext) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(conflict.Values) == 0 {
		return nil, fmt.Errorf("conflict %s: %w", conflict.ConflictID, ErrNoContexts)
	}

	switch strategy {
	case core.LastWriterWins:
		return r.finish(conflict, strategy, r.resolveByWriter(conflict, contexts, true)), nil
	case core.FirstWriterWins:
		return r.finish(conflict, strategy, r.resolveByWriter(conflict, contexts, false)), nil
	case core.PriorityBased:
		return r.finish(conflict, strategy, r.resolveByPriority(conflict)), nil
	case core.MergeValues:
		return r.finish(conflict, strategy, r.resolveByMerge(conflict)), nil
	case core.ConsensusBased:
		return r.finish(conflict, strategy, r.resolveByMajority(conflict)), nil
	case core.ManualResolution:
		r.enqueueManual(conflict)
		return nil, nil
	default:
		r.logger.Warn("unknown resolution strategy %q, falling back to last_writer_wins", strategy)
		return r.finish(conflict, core.LastWriterWins, r.resolveByWriter(conflict, contexts, true)), nil
	}
}

// PendingConflicts returns the manually queued, still unresolved conflicts in
// FIFO order.
func (r *Resolver) PendingConflicts() []*core.ContextConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.ContextConflict, 0, len(r.manualQueue))
	for _, id := range r.manualQueue {
		if c, ok := r.pending[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ManuallyResolveConflict supplies the resolved value for a queued manual
// conflict, removing it from the pending queue and tagging it with the
// manual_resolution strategy.
func (r *Resolver) ManuallyResolveConflict(conflictID string, value any, resolvedBy string) core.Result {
	const op = "conflict.manually_resolve"

	r.mu.Lock()
	c, ok := r.pending[conflictID]
	if !ok {
		r.mu.Unlock()
		return core.Fail(op, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID))
	}
	delete(r.pending, conflictID)
	for i, id := range r.manualQueue {
		if id == conflictID {
			r.manualQueue = append(r.manualQueue[:i], r.manualQueue[i+1:]...)
			break
		}
	}
	c.Resolved = true
	c.ResolvedValue = value
	c.ResolvedBy = resolvedBy
	c.ResolutionStrategy = core.ManualResolution
	r.appendHistoryLocked(c)
	r.mu.Unlock()

	r.emit(core.NewCoordinationEvent(core.EventConflictResolved, resolvedBy).
		WithPayload("conflict_id", conflictID).
		WithPayload("strategy", string(core.ManualResolution)))

	return core.OK(op, c)
}

// History returns the retained resolved conflicts, oldest first.
func (r *Resolver) History() []*core.ContextConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.ContextConflict, len(r.history))
	copy(out, r.history)
	return out
}

// resolveByWriter picks the value held by the latest (or earliest) writer.
// Ties on modification time break by lexical agent id order so the outcome is
// deterministic regardless of input order.
func (r *Resolver) resolveByWriter(conflict *core.ContextConflict, contexts []*core.AgentContext, latest bool) any {
	modified := map[string]time.Time{}
	for _, c := range contexts {
		if c != nil {
			modified[c.AgentID] = c.LastModified
		}
	}

	winner := ""
	for _, agent := range conflict.ConflictingAgents {
		if _, held := conflict.Values[agent]; !held {
			continue
		}
		if winner == "" {
			winner = agent
			continue
		}
		a, b := modified[agent], modified[winner]
		switch {
		case latest && a.After(b):
			winner = agent
		case !latest && a.Before(b):
			winner = agent
		case a.Equal(b) && agent < winner:
			winner = agent
		}
	}
	return conflict.Values[winner]
}

// resolveByPriority picks the value held by the highest-priority agent,
// defaulting unspecified agents to PriorityMedium. Ties break lexically.
func (r *Resolver) resolveByPriority(conflict *core.ContextConflict) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	winner := ""
	best := core.PriorityLow
	for _, agent := range conflict.ConflictingAgents {
		if _, held := conflict.Values[agent]; !held {
			continue
		}
		p, ok := r.priorities[agent]
		if !ok {
			p = core.PriorityMedium
		}
		if winner == "" || p > best || (p == best && agent < winner) {
			winner = agent
			best = p
		}
	}
	return conflict.Values[winner]
}

// resolveByMerge structurally combines the conflicting values: arrays become
// a set union, maps shallow-merge (last writer wins per key), strings are
// space-joined, anything else keeps the first value. Values are visited in
// lexical agent order for determinism.
func (r *Resolver) resolveByMerge(conflict *core.ContextConflict) any {
	ordered := orderedValues(conflict)
	if len(ordered) == 0 {
		return nil
	}

	allArrays, allMaps, allStrings := true, true, true
	for _, v := range ordered {
		if _, ok := v.([]any); !ok {
			allArrays = false
		}
		if _, ok := v.(map[string]any); !ok {
			allMaps = false
		}
		if _, ok := v.(string); !ok {
			allStrings = false
		}
	}

	switch {
	case allArrays:
		seen := map[string]bool{}
		var union []any
		for _, v := range ordered {
			for _, item := range v.([]any) {
				key := core.CanonicalValue(item)
				if !seen[key] {
					seen[key] = true
					union = append(union, item)
				}
			}
		}
		return union
	case allMaps:
		merged := map[string]any{}
		for _, v := range ordered {
			for k, item := range v.(map[string]any) {
				merged[k] = item
			}
		}
		return merged
	case allStrings:
		parts := make([]string, len(ordered))
		for i, v := range ordered {
			parts[i] = v.(string)
		}
		return strings.Join(parts, " ")
	default:
		return ordered[0]
	}
}

// resolveByMajority keeps the value held by the most contributors, breaking
// ties in favor of the value seen first in lexical agent order.
func (r *Resolver) resolveByMajority(conflict *core.ContextConflict) any {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	byKey := map[string]any{}

	for i, agent := range conflict.ConflictingAgents {
		v, held := conflict.Values[agent]
		if !held {
			continue
		}
		key := core.CanonicalValue(v)
		counts[key]++
		if _, ok := firstSeen[key]; !ok {
			firstSeen[key] = i
			byKey[key] = v
		}
	}

	bestKey := ""
	bestCount := -1
	for key, count := range counts {
		if count > bestCount || (count == bestCount && firstSeen[key] < firstSeen[bestKey]) {
			bestKey = key
			bestCount = count
		}
	}
	return byKey[bestKey]
}

func (r *Resolver) finish(conflict *core.ContextConflict, strategy core.ResolutionStrategy, value any) any {
	conflict.Resolved = true
	conflict.ResolvedValue = value
	conflict.ResolutionStrategy = strategy
	conflict.ResolvedBy = "resolver"

	r.mu.Lock()
	r.appendHistoryLocked(conflict)
	r.mu.Unlock()

	r.emit(core.NewCoordinationEvent(core.EventConflictResolved, "").
		WithPayload("conflict_id", conflict.ConflictID).
		WithPayload("field_path", conflict.FieldPath).
		WithPayload("strategy", string(strategy)))

	return value
}

func (r *Resolver) enqueueManual(conflict *core.ContextConflict) {
	conflict.ResolutionStrategy = core.ManualResolution

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, queued := r.pending[conflict.ConflictID]; queued {
		return
	}
	r.pending[conflict.ConflictID] = conflict
	r.manualQueue = append(r.manualQueue, conflict.ConflictID)
}

func (r *Resolver) appendHistoryLocked(c *core.ContextConflict) {
	r.history = append(r.history, c)
	if len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func (r *Resolver) emit(ev core.CoordinationEvent) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func orderedValues(conflict *core.ContextConflict) []any {
	out := make([]any, 0, len(conflict.ConflictingAgents))
	for _, agent := range conflict.ConflictingAgents {
		if v, held := conflict.Values[agent]; held {
			out = append(out, v)
		}
	}
	return out
}
