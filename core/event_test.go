package core

import (
	"testing"

	"github.com/hupe1980/contextmesh/logging"
	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(logging.NoOpLogger{})

	var received []CoordinationEvent
	bus.Subscribe(func(ev CoordinationEvent) {
		received = append(received, ev)
	})

	bus.Publish(NewCoordinationEvent(EventContextSynced, "agent-a").WithPayload("version", 2))

	assert.Len(t, received, 1)
	assert.Equal(t, EventContextSynced, received[0].Type)
	assert.Equal(t, "agent-a", received[0].AgentID)
	assert.Equal(t, 2, received[0].Payload["version"])
}

func TestEventBus_PanickingObserverIsolated(t *testing.T) {
	bus := NewEventBus(logging.NoOpLogger{})

	bus.Subscribe(func(CoordinationEvent) { panic("boom") })
	delivered := false
	bus.Subscribe(func(CoordinationEvent) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(NewCoordinationEvent(EventConflictDetected, ""))
	})
	assert.True(t, delivered, "healthy observer still receives the event")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(logging.NoOpLogger{})

	count := 0
	id := bus.Subscribe(func(CoordinationEvent) { count++ })

	bus.Publish(NewCoordinationEvent(EventTopicCreated, ""))
	bus.Unsubscribe(id)
	bus.Publish(NewCoordinationEvent(EventTopicCreated, ""))

	assert.Equal(t, 1, count)
}

func TestCoordinationEvent_Chaining(t *testing.T) {
	ev := NewCoordinationEvent(EventLeaderElected, "agent-a").
		WithGroup("group-1").
		WithPayload("term", int64(3))

	assert.Equal(t, "group-1", ev.GroupID)
	assert.Equal(t, int64(3), ev.Payload["term"])
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}
