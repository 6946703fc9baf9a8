package core

import (
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/logging"
)

// CoordinationEventType enumerates the lifecycle events emitted by components.
type CoordinationEventType string

const (
	// EventContextShared fires when a context is shared with target agents.
	EventContextShared CoordinationEventType = "context_shared"
	// EventContextUpdated fires when a shared context is re-versioned.
	EventContextUpdated CoordinationEventType = "context_updated"
	// EventContextSynced fires after a synchronize operation completes.
	EventContextSynced CoordinationEventType = "context_synced"
	// EventConflictDetected fires when divergent field values are found.
	EventConflictDetected CoordinationEventType = "conflict_detected"
	// EventConflictResolved fires when a conflict reaches a resolved value.
	EventConflictResolved CoordinationEventType = "conflict_resolved"
	// EventPartitionDetected fires when a partition is declared.
	EventPartitionDetected CoordinationEventType = "partition_detected"
	// EventPartitionRecovered fires after partition recovery merges state.
	EventPartitionRecovered CoordinationEventType = "partition_recovered"
	// EventLeaderElected fires when a group elects a leader.
	EventLeaderElected CoordinationEventType = "leader_elected"
	// EventLeaderFailedOver fires when a stale leader is replaced.
	EventLeaderFailedOver CoordinationEventType = "leader_failed_over"
	// EventMessagePublished fires when a message is accepted by a topic.
	EventMessagePublished CoordinationEventType = "message_published"
	// EventMessageDelivered fires when a message reaches a subscriber.
	EventMessageDelivered CoordinationEventType = "message_delivered"
	// EventTopicCreated fires when a topic is auto-created on first use.
	EventTopicCreated CoordinationEventType = "topic_created"
)

// CoordinationEvent is a best-effort observability record. After emission it
// should be treated as immutable. Event delivery never affects core behavior:
// subscribers observe, they do not participate.
type CoordinationEvent struct {
	ID        string                `json:"id"`
	Type      CoordinationEventType `json:"type"`
	AgentID   string                `json:"agent_id,omitempty"`
	GroupID   string                `json:"group_id,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Payload   map[string]any        `json:"payload,omitempty"`
}

// NewCoordinationEvent creates an event of the given type attributed to agentID.
func NewCoordinationEvent(eventType CoordinationEventType, agentID string) CoordinationEvent {
	return CoordinationEvent{
		ID:        NewID(),
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
	}
}

// WithPayload attaches a payload key/value and returns the event for chaining.
func (e CoordinationEvent) WithPayload(key string, value any) CoordinationEvent {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}

// WithGroup attaches a coordination group id and returns the event.
func (e CoordinationEvent) WithGroup(groupID string) CoordinationEvent {
	e.GroupID = groupID
	return e
}

// EventObserver receives lifecycle events. Observers run synchronously on the
// publishing goroutine; a panicking observer is recovered and logged so it
// never blocks siblings or the publisher.
type EventObserver func(CoordinationEvent)

// EventBus fans lifecycle events out to registered observers with best-effort
// isolated delivery. It is safe for concurrent use.
type EventBus struct {
	mu        sync.RWMutex
	observers map[string]EventObserver
	*loggerAdapter
}

// NewEventBus creates an event bus. A nil logger falls back to NoOpLogger.
func NewEventBus(logger logging.Logger) *EventBus {
	return &EventBus{observers: map[string]EventObserver{}, loggerAdapter: newLoggerAdapter(logger)}
}

// Subscribe registers an observer returning its subscription id.
func (b *EventBus) Subscribe(fn EventObserver) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := NewID()
	b.observers[id] = fn
	return id
}

// Unsubscribe removes an observer by subscription id.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, id)
}

// Publish delivers the event to every observer. Delivery is synchronous and
// isolated: one faulty observer cannot block or crash the others.
func (b *EventBus) Publish(ev CoordinationEvent) {
	b.mu.RLock()
	observers := make([]EventObserver, 0, len(b.observers))
	for _, fn := range b.observers {
		observers = append(observers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range observers {
		b.deliver(fn, ev)
	}
}

func (b *EventBus) deliver(fn EventObserver, ev CoordinationEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.LogWarn("event observer panicked type=%s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}
