package sharing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// AnonymizedValue replaces the content of anonymized fields in shared copies.
const AnonymizedValue = "[anonymized]"

// Config defines tuning parameters for the sharing Manager.
type Config struct {
	// RetentionPeriod bounds how long shared copies are kept. Zero disables
	// retention cleanup.
	RetentionPeriod time.Duration

	// ArchiveExpired moves retired copies to an archive instead of deleting.
	ArchiveExpired bool

	// AnonymizeFields lists top-level fields whose values are replaced with
	// AnonymizedValue in every shared copy.
	AnonymizeFields []string

	// SweepInterval is the cadence of the permission/retention sweep.
	SweepInterval time.Duration
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	RetentionPeriod: 24 * time.Hour,
	SweepInterval:   60 * time.Second,
}

// sharedEntry is the per-target filtered copy of a shared context.
type sharedEntry struct {
	context  *core.AgentContext
	sourceID string
	targetID string
	sharedAt time.Time
}

// ChangeSubscriber receives a snapshot after a shared context changes.
type ChangeSubscriber func(*core.AgentContext)

// Options configures a Manager instance.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Bus receives context_shared / context_updated lifecycle events. May be nil.
	Bus *core.EventBus

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// Manager stores permission-gated shared context copies and notifies change
// subscribers. Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	config      Config
	store       core.ContextStore
	shared      map[string]map[string]*sharedEntry // source -> target -> entry
	archive     map[string][]*core.AgentContext
	subscribers map[string]map[string]ChangeSubscriber // source -> subscription id -> fn
	bus         *core.EventBus
	logger      logging.Logger
}

// New creates a Manager persisting owner contexts in the given store.
func New(store core.ContextStore, optFns ...func(o *Options)) *Manager {
	opts := Options{Config: DefaultConfig, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Manager{
		config:      opts.Config,
		store:       store,
		shared:      map[string]map[string]*sharedEntry{},
		archive:     map[string][]*core.AgentContext{},
		subscribers: map[string]map[string]ChangeSubscriber{},
		bus:         opts.Bus,
		logger:      opts.Logger,
	}
}

// ShareContext validates the permissions (granter must equal source, none may
// be pre-expired), applies field allow/deny lists and anonymization, then
// stores an independent filtered copy per target. Validation failures return
// before any state is mutated.
func (m *Manager) ShareContext(ctx context.Context, source string, targets []string, agentCtx *core.AgentContext, permissions []core.Permission) core.Result {
	const op = "sharing.share_context"

	if err := ctx.Err(); err != nil {
		return core.Fail(op, err)
	}
	if len(targets) == 0 {
		return core.Fail(op, fmt.Errorf("%w: no targets", ErrInvalidPermission))
	}
	now := time.Now().UTC()
	for _, p := range permissions {
		if err := p.Validate(); err != nil {
			return core.Fail(op, fmt.Errorf("%w: %v", ErrInvalidPermission, err))
		}
		if p.AgentID != source {
			return core.Fail(op, fmt.Errorf("%w: granter %q is not the share source %q", ErrInvalidPermission, p.AgentID, source))
		}
		if p.Expired(now) {
			return core.Fail(op, fmt.Errorf("%w: permission already expired", ErrInvalidPermission))
		}
	}

	owner := agentCtx.Clone()
	for _, target := range targets {
		owner.SharedWith[target] = true
	}
	owner.Permissions = append(owner.Permissions, clonePermissions(permissions)...)
	if err := m.store.Put(owner); err != nil {
		return core.Fail(op, fmt.Errorf("store owner context: %w", err))
	}

	m.mu.Lock()
	if m.shared[source] == nil {
		m.shared[source] = map[string]*sharedEntry{}
	}
	for _, target := range targets {
		filtered := m.filteredCopy(owner, permissions)
		m.shared[source][target] = &sharedEntry{
			context:  filtered,
			sourceID: source,
			targetID: target,
			sharedAt: now,
		}
	}
	m.mu.Unlock()

	m.emit(core.NewCoordinationEvent(core.EventContextShared, source).
		WithPayload("targets", targets).
		WithPayload("version", owner.Version))
	m.logger.Debug("context shared source=%s targets=%d", source, len(targets))

	return core.OK(op, map[string]any{
		"source":  source,
		"targets": targets,
		"version": owner.Version,
	})
}

// GetSharedContext returns the requester's filtered copy of source's context.
// Access requires an existing share, a readable unexpired permission mode and
// every access condition to hold against the shared fields.
func (m *Manager) GetSharedContext(requester, source string) (*core.AgentContext, error) {
	m.mu.RLock()
	entry, ok := m.shared[source][requester]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source %s requester %s", ErrNotShared, source, requester)
	}

	if !entry.context.IsSharedWith(requester) {
		return nil, fmt.Errorf("%w: source %s requester %s", ErrNotShared, source, requester)
	}

	now := time.Now().UTC()
	perms := entry.context.ActivePermissions(now)
	if len(entry.context.Permissions) > 0 && len(perms) == 0 {
		return nil, fmt.Errorf("%w: source %s", ErrPermissionExpired, source)
	}

	readable := len(perms) == 0
	for _, p := range perms {
		if p.Mode.CanRead() {
			readable = true
			break
		}
	}
	if !readable {
		return nil, fmt.Errorf("%w: mode forbids read", ErrAccessDenied)
	}

	for _, p := range perms {
		for _, cond := range p.Conditions {
			ok, err := cond.Evaluate(entry.context.Fields)
			if err != nil {
				return nil, fmt.Errorf("evaluate condition on %q: %w", cond.FieldPath, err)
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s %s", ErrConditionNotMet, cond.Type, cond.FieldPath)
			}
		}
	}

	return entry.context.Clone(), nil
}

// UpdateSharedContext applies an update to the owner context and every shared
// copy, re-versioning them and stamping the modifying agent. The modifier
// must be the source itself or hold a writable permission.
func (m *Manager) UpdateSharedContext(ctx context.Context, source, modifiedBy string, update core.ContextUpdate) core.Result {
	const op = "sharing.update_shared_context"

	if err := ctx.Err(); err != nil {
		return core.Fail(op, err)
	}

	owner, err := m.store.Get(source)
	if err != nil {
		return core.Fail(op, fmt.Errorf("owner context: %w", err))
	}

	now := time.Now().UTC()
	if modifiedBy != source {
		if !owner.IsSharedWith(modifiedBy) {
			return core.Fail(op, fmt.Errorf("%w: %s", ErrNotShared, modifiedBy))
		}
		writable := false
		for _, p := range owner.ActivePermissions(now) {
			if p.Mode.CanWrite() {
				writable = true
				break
			}
		}
		if !writable {
			return core.Fail(op, fmt.Errorf("%w: mode forbids write", ErrAccessDenied))
		}
	}

	if err := owner.ApplyUpdate(update); err != nil {
		return core.Fail(op, fmt.Errorf("apply update: %w", err))
	}
	if owner.Metadata == nil {
		owner.Metadata = map[string]any{}
	}
	owner.Metadata["modifiedBy"] = modifiedBy
	if err := m.store.Put(owner); err != nil {
		return core.Fail(op, fmt.Errorf("store owner context: %w", err))
	}

	m.mu.Lock()
	for _, entry := range m.shared[source] {
		if err := entry.context.ApplyUpdate(update); err != nil {
			m.logger.Warn("update shared copy %s->%s: %v", source, entry.targetID, err)
			continue
		}
		if entry.context.Metadata == nil {
			entry.context.Metadata = map[string]any{}
		}
		entry.context.Metadata["modifiedBy"] = modifiedBy
	}
	m.mu.Unlock()

	m.notifySubscribers(source, owner)
	m.emit(core.NewCoordinationEvent(core.EventContextUpdated, source).
		WithPayload("modified_by", modifiedBy).
		WithPayload("update_id", update.UpdateID).
		WithPayload("version", owner.Version))

	return core.OK(op, map[string]any{
		"source":      source,
		"modified_by": modifiedBy,
		"version":     owner.Version,
	})
}

// SubscribeToContextChanges registers a subscriber for changes to source's
// shared context, returning the subscription id.
func (m *Manager) SubscribeToContextChanges(source string, fn ChangeSubscriber) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[source] == nil {
		m.subscribers[source] = map[string]ChangeSubscriber{}
	}
	id := core.NewID()
	m.subscribers[source][id] = fn
	return id
}

// UnsubscribeFromContextChanges removes a subscription by id.
func (m *Manager) UnsubscribeFromContextChanges(source, subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers[source], subscriptionID)
}

// RegisterSweeps attaches the permission/retention sweep to the scheduler.
func (m *Manager) RegisterSweeps(scheduler *core.Scheduler) error {
	interval := m.config.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig.SweepInterval
	}
	return scheduler.Every("sharing.retention_sweep", interval, m.Sweep)
}

// Sweep purges expired permissions from shared copies and retires copies
// past the retention period, archiving them when configured.
func (m *Manager) Sweep() {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	for source, byTarget := range m.shared {
		for target, entry := range byTarget {
			kept := entry.context.ActivePermissions(now)
			if len(kept) < len(entry.context.Permissions) {
				entry.context.Permissions = kept
			}
			if m.config.RetentionPeriod > 0 && now.Sub(entry.sharedAt) > m.config.RetentionPeriod {
				if m.config.ArchiveExpired {
					m.archive[source] = append(m.archive[source], entry.context)
				}
				delete(byTarget, target)
				m.logger.Debug("retired shared copy source=%s target=%s", source, target)
			}
		}
		if len(byTarget) == 0 {
			delete(m.shared, source)
		}
	}
}

// ArchivedContexts returns the archived copies for a source agent.
func (m *Manager) ArchivedContexts(source string) []*core.AgentContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.AgentContext, len(m.archive[source]))
	copy(out, m.archive[source])
	return out
}

// filteredCopy clones the owner context applying permission field filters and
// configured anonymization. Every permission's filter must allow a field for
// it to survive.
func (m *Manager) filteredCopy(owner *core.AgentContext, permissions []core.Permission) *core.AgentContext {
	filtered := owner.Clone()
	for field := range filtered.Fields {
		for _, p := range permissions {
			if !p.AllowsField(field) {
				delete(filtered.Fields, field)
				break
			}
		}
	}
	for _, field := range m.config.AnonymizeFields {
		if _, held := filtered.Fields[field]; held {
			filtered.Fields[field] = AnonymizedValue
		}
	}
	return filtered
}

// notifySubscribers delivers the change synchronously to every subscriber.
// Delivery is best-effort and isolated: a panicking subscriber is recovered
// and logged, and never blocks the others.
func (m *Manager) notifySubscribers(source string, changed *core.AgentContext) {
	m.mu.RLock()
	subs := make([]ChangeSubscriber, 0, len(m.subscribers[source]))
	for _, fn := range m.subscribers[source] {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		m.notifyOne(fn, changed.Clone())
	}
}

func (m *Manager) notifyOne(fn ChangeSubscriber, snapshot *core.AgentContext) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("context change subscriber panicked: %v", r)
		}
	}()
	fn(snapshot)
}

func (m *Manager) emit(ev core.CoordinationEvent) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func clonePermissions(perms []core.Permission) []core.Permission {
	out := make([]core.Permission, len(perms))
	for i, p := range perms {
		out[i] = p.Clone()
	}
	return out
}
