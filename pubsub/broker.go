package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// DeliveryHandler receives messages for one agent. Batch subscriptions get
// the accumulated slice in publish order; immediate subscriptions get a
// single-element slice per publish.
type DeliveryHandler func(agentID string, messages []core.PublishedMessage) error

// Config defines tuning parameters for the Broker.
type Config struct {
	// DefaultMaxMessages caps retained messages for auto-created topics.
	DefaultMaxMessages int

	// DefaultMaxAge caps message age for auto-created topics.
	DefaultMaxAge time.Duration

	// SweepInterval is the cadence of the retention sweep.
	SweepInterval time.Duration

	// DefaultBatchSize flushes a batch subscription once this many messages
	// accumulate, unless the subscription overrides it.
	DefaultBatchSize int

	// DefaultBatchTimeout flushes a partial batch after this long.
	DefaultBatchTimeout time.Duration
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	DefaultMaxMessages:  1000,
	DefaultMaxAge:       24 * time.Hour,
	SweepInterval:       60 * time.Second,
	DefaultBatchSize:    10,
	DefaultBatchTimeout: 5 * time.Second,
}

// Options configures a Broker instance.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Bus receives topic and message lifecycle events. Optional.
	Bus *core.EventBus

	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
}

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	// Filters are AND-combined against each published message.
	Filters []core.SubscriptionFilter

	// DeliveryMode defaults to DeliveryImmediate.
	DeliveryMode core.DeliveryMode

	// MaxBatchSize defaults to Config.DefaultBatchSize.
	MaxBatchSize int

	// BatchTimeout defaults to Config.DefaultBatchTimeout.
	BatchTimeout time.Duration
}

type topicState struct {
	meta     core.Topic
	messages []core.PublishedMessage
}

type pendingBatch struct {
	agentID  string
	messages []core.PublishedMessage
	timer    *time.Timer
}

// Broker routes published messages to topic subscribers. Safe for concurrent
// use; handler invocation happens outside the broker lock.
type Broker struct {
	mu       sync.Mutex
	config   Config
	topics   map[string]*topicState
	subs     map[string]map[string]*core.Subscription
	handlers map[string]DeliveryHandler
	batches  map[string]*pendingBatch
	bus      *core.EventBus
	logger   logging.Logger
}

// New creates a Broker with optional configuration overrides.
func New(optFns ...func(o *Options)) *Broker {
	opts := Options{Config: DefaultConfig, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	cfg := opts.Config
	if cfg.DefaultMaxMessages <= 0 {
		cfg.DefaultMaxMessages = DefaultConfig.DefaultMaxMessages
	}
	if cfg.DefaultMaxAge <= 0 {
		cfg.DefaultMaxAge = DefaultConfig.DefaultMaxAge
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultConfig.DefaultBatchSize
	}
	if cfg.DefaultBatchTimeout <= 0 {
		cfg.DefaultBatchTimeout = DefaultConfig.DefaultBatchTimeout
	}

	return &Broker{
		config:   cfg,
		topics:   map[string]*topicState{},
		subs:     map[string]map[string]*core.Subscription{},
		handlers: map[string]DeliveryHandler{},
		batches:  map[string]*pendingBatch{},
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
}

// ConfigureTopic creates the topic if needed and applies the given retention
// and access settings. Zero-valued retention fields keep the defaults.
func (b *Broker) ConfigureTopic(name string, config core.TopicConfig) core.Topic {
	if config.MaxMessages <= 0 {
		config.MaxMessages = b.config.DefaultMaxMessages
	}
	if config.MaxAge <= 0 {
		config.MaxAge = b.config.DefaultMaxAge
	}

	b.mu.Lock()
	state, created := b.ensureTopicLocked(name)
	state.meta.Config = config
	b.trimTopicLocked(state)
	meta := state.meta
	b.mu.Unlock()

	if created {
		b.emitTopicCreated(name)
	}
	return meta
}

// Topic returns the metadata record for name.
func (b *Broker) Topic(name string) (core.Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.topics[name]
	if !ok {
		return core.Topic{}, false
	}
	return state.meta, true
}

// Messages returns up to limit of the most recent retained messages on the
// topic, oldest first. A non-positive limit returns all retained messages.
func (b *Broker) Messages(topic string, limit int) []core.PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.topics[topic]
	if !ok {
		return nil
	}
	msgs := state.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.PublishedMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Subscribe binds agentID to the topic, creating the topic if needed. One
// subscription exists per (agent, topic): resubscribing updates the existing
// record in place, flushing any pending batch first.
func (b *Broker) Subscribe(agentID, topic string, optFns ...func(o *SubscribeOptions)) core.Subscription {
	opts := SubscribeOptions{
		DeliveryMode: core.DeliveryImmediate,
		MaxBatchSize: b.config.DefaultBatchSize,
		BatchTimeout: b.config.DefaultBatchTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DeliveryMode == "" {
		opts.DeliveryMode = core.DeliveryImmediate
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = b.config.DefaultBatchSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = b.config.DefaultBatchTimeout
	}

	b.mu.Lock()
	_, created := b.ensureTopicLocked(topic)
	byAgent, ok := b.subs[topic]
	if !ok {
		byAgent = map[string]*core.Subscription{}
		b.subs[topic] = byAgent
	}

	sub, exists := byAgent[agentID]
	var stale *pendingBatch
	if exists {
		stale = b.detachBatchLocked(sub.SubscriptionID)
	} else {
		sub = &core.Subscription{
			SubscriptionID: core.NewID(),
			AgentID:        agentID,
			Topic:          topic,
			CreatedAt:      time.Now().UTC(),
		}
		byAgent[agentID] = sub
	}
	sub.Filters = opts.Filters
	sub.DeliveryMode = opts.DeliveryMode
	sub.MaxBatchSize = opts.MaxBatchSize
	sub.BatchTimeout = opts.BatchTimeout
	out := *sub
	b.mu.Unlock()

	if stale != nil {
		b.dispatch(stale.agentID, topic, stale.messages)
	}
	if created {
		b.emitTopicCreated(topic)
	}
	return out
}

// Unsubscribe removes the agent's subscription from the topic, flushing any
// pending batch to the handler first.
func (b *Broker) Unsubscribe(agentID, topic string) {
	b.mu.Lock()
	var stale *pendingBatch
	if byAgent, ok := b.subs[topic]; ok {
		if sub, ok := byAgent[agentID]; ok {
			stale = b.detachBatchLocked(sub.SubscriptionID)
			delete(byAgent, agentID)
		}
	}
	b.mu.Unlock()

	if stale != nil {
		b.dispatch(stale.agentID, topic, stale.messages)
	}
}

// RegisterHandler installs the delivery handler for agentID. Messages routed
// to an agent without a handler are dropped with a debug log.
func (b *Broker) RegisterHandler(agentID string, handler DeliveryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = handler
}

// Publish accepts a message onto its topic and routes it to matching
// subscribers. The topic is created implicitly when absent; topics with an
// allow list reject publishers not on it.
func (b *Broker) Publish(ctx context.Context, msg core.PublishedMessage) core.Result {
	const op = "pubsub.publish"

	if err := ctx.Err(); err != nil {
		return core.Fail(op, err)
	}

	b.mu.Lock()
	state, created := b.ensureTopicLocked(msg.Topic)
	if !state.meta.Config.Allows(msg.PublishedBy) {
		b.mu.Unlock()
		return core.Fail(op, fmt.Errorf("topic %s agent %s: %w", msg.Topic, msg.PublishedBy, ErrPublishDenied))
	}

	if msg.MessageID == "" {
		msg.MessageID = core.NewID()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	state.messages = append(state.messages, msg)
	state.meta.MessageCount++
	b.trimTopicLocked(state)

	var matched []core.Subscription
	for _, sub := range b.subs[msg.Topic] {
		if matchesFilters(msg, sub.Filters) {
			matched = append(matched, *sub)
		}
	}
	b.mu.Unlock()

	if created {
		b.emitTopicCreated(msg.Topic)
	}
	if b.bus != nil {
		b.bus.Publish(core.NewCoordinationEvent(core.EventMessagePublished, msg.PublishedBy).
			WithPayload("topic", msg.Topic).
			WithPayload("messageId", msg.MessageID).
			WithPayload("matchedSubscribers", len(matched)))
	}

	delivered := 0
	for _, sub := range matched {
		switch sub.DeliveryMode {
		case core.DeliveryBatch:
			b.enqueueBatch(sub, msg)
		default:
			// Immediate and delayed both deliver synchronously.
			if b.dispatch(sub.AgentID, msg.Topic, []core.PublishedMessage{msg}) {
				delivered++
			}
		}
	}

	return core.OK(op, map[string]any{
		"messageId": msg.MessageID,
		"topic":     msg.Topic,
		"matched":   len(matched),
		"delivered": delivered,
	})
}

// FlushBatches immediately delivers every pending batch. Called on shutdown
// so accumulated messages are not lost.
func (b *Broker) FlushBatches() {
	b.mu.Lock()
	pending := make(map[string]*pendingBatch, len(b.batches))
	for id := range b.batches {
		pending[id] = b.detachBatchLocked(id)
	}
	topics := make(map[string]string, len(pending))
	for id, batch := range pending {
		if len(batch.messages) > 0 {
			topics[id] = batch.messages[0].Topic
		}
	}
	b.mu.Unlock()

	for id, batch := range pending {
		b.dispatch(batch.agentID, topics[id], batch.messages)
	}
}

// RegisterSweeps attaches the message retention sweep to the scheduler.
func (b *Broker) RegisterSweeps(scheduler *core.Scheduler) error {
	interval := b.config.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig.SweepInterval
	}
	return scheduler.Every("pubsub.retention_sweep", interval, b.SweepMessages)
}

// SweepMessages drops retained messages past each topic's age limit.
func (b *Broker) SweepMessages() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, state := range b.topics {
		b.trimTopicLocked(state)
	}
}

// enqueueBatch appends the message to the subscription's pending batch,
// flushing when the batch size is reached and otherwise arming the timeout.
func (b *Broker) enqueueBatch(sub core.Subscription, msg core.PublishedMessage) {
	b.mu.Lock()
	batch, ok := b.batches[sub.SubscriptionID]
	if !ok {
		batch = &pendingBatch{agentID: sub.AgentID}
		b.batches[sub.SubscriptionID] = batch
		id := sub.SubscriptionID
		batch.timer = time.AfterFunc(sub.BatchTimeout, func() { b.flushBatch(id) })
	}
	batch.messages = append(batch.messages, msg)

	var full *pendingBatch
	if len(batch.messages) >= sub.MaxBatchSize {
		full = b.detachBatchLocked(sub.SubscriptionID)
	}
	b.mu.Unlock()

	if full != nil {
		b.dispatch(full.agentID, msg.Topic, full.messages)
	}
}

// flushBatch delivers a pending batch when its timeout fires.
func (b *Broker) flushBatch(subscriptionID string) {
	b.mu.Lock()
	batch := b.detachBatchLocked(subscriptionID)
	b.mu.Unlock()

	if batch != nil && len(batch.messages) > 0 {
		b.dispatch(batch.agentID, batch.messages[0].Topic, batch.messages)
	}
}

// detachBatchLocked removes and returns the pending batch, stopping its
// timer. Caller must hold the lock.
func (b *Broker) detachBatchLocked(subscriptionID string) *pendingBatch {
	batch, ok := b.batches[subscriptionID]
	if !ok {
		return nil
	}
	delete(b.batches, subscriptionID)
	if batch.timer != nil {
		batch.timer.Stop()
	}
	return batch
}

// dispatch hands messages to the agent's handler with panic isolation.
// Returns whether delivery succeeded.
func (b *Broker) dispatch(agentID, topic string, messages []core.PublishedMessage) (delivered bool) {
	if len(messages) == 0 {
		return false
	}

	b.mu.Lock()
	handler := b.handlers[agentID]
	b.mu.Unlock()

	if handler == nil {
		b.logger.Debug("dropping %d message(s) topic=%s agent=%s: %v", len(messages), topic, agentID, ErrNoHandler)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("delivery handler panicked agent=%s topic=%s: %v", agentID, topic, r)
			delivered = false
		}
	}()
	if err := handler(agentID, messages); err != nil {
		b.logger.Warn("delivery failed agent=%s topic=%s: %v", agentID, topic, err)
		return false
	}

	if b.bus != nil {
		b.bus.Publish(core.NewCoordinationEvent(core.EventMessageDelivered, agentID).
			WithPayload("topic", topic).
			WithPayload("messageCount", len(messages)))
	}
	return true
}

// ensureTopicLocked returns the topic state, creating it with default
// retention when absent. Caller must hold the lock.
func (b *Broker) ensureTopicLocked(name string) (*topicState, bool) {
	if state, ok := b.topics[name]; ok {
		return state, false
	}
	state := &topicState{
		meta: core.Topic{
			Name: name,
			Config: core.TopicConfig{
				MaxMessages: b.config.DefaultMaxMessages,
				MaxAge:      b.config.DefaultMaxAge,
			},
			CreatedAt: time.Now().UTC(),
		},
	}
	b.topics[name] = state
	return state, true
}

// trimTopicLocked enforces the topic's count and age retention limits.
// Caller must hold the lock.
func (b *Broker) trimTopicLocked(state *topicState) {
	if limit := state.meta.Config.MaxMessages; limit > 0 && len(state.messages) > limit {
		state.messages = append([]core.PublishedMessage(nil), state.messages[len(state.messages)-limit:]...)
	}
	if age := state.meta.Config.MaxAge; age > 0 {
		cutoff := time.Now().UTC().Add(-age)
		i := 0
		for i < len(state.messages) && state.messages[i].PublishedAt.Before(cutoff) {
			i++
		}
		if i > 0 {
			state.messages = append([]core.PublishedMessage(nil), state.messages[i:]...)
		}
	}
}

func (b *Broker) emitTopicCreated(name string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(core.NewCoordinationEvent(core.EventTopicCreated, "").WithPayload("topic", name))
}
