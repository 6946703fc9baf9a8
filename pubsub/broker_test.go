package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/contextmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects deliveries per handler invocation.
type recordingHandler struct {
	mu      sync.Mutex
	batches [][]core.PublishedMessage
	err     error
}

func (h *recordingHandler) handle(_ string, messages []core.PublishedMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.batches = append(h.batches, append([]core.PublishedMessage(nil), messages...))
	return nil
}

func (h *recordingHandler) deliveries() [][]core.PublishedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]core.PublishedMessage, len(h.batches))
	copy(out, h.batches)
	return out
}

func message(topic, publisher string, payload map[string]any) core.PublishedMessage {
	return core.PublishedMessage{Topic: topic, PublishedBy: publisher, Payload: payload}
}

func TestPublish_AutoCreatesTopic(t *testing.T) {
	bus := core.NewEventBus(nil)
	var events []core.CoordinationEventType
	bus.Subscribe(func(e core.CoordinationEvent) {
		events = append(events, e.Type)
	})

	b := New(func(o *Options) {
		o.Bus = bus
	})

	res := b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"level": "info"}))
	require.True(t, res.Success)

	topic, ok := b.Topic("alerts")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig.DefaultMaxMessages, topic.Config.MaxMessages)
	assert.Equal(t, DefaultConfig.DefaultMaxAge, topic.Config.MaxAge)
	assert.Equal(t, 1, topic.MessageCount)

	assert.Contains(t, events, core.EventTopicCreated)
	assert.Contains(t, events, core.EventMessagePublished)
}

func TestPublish_AllowedAgents(t *testing.T) {
	b := New()
	b.ConfigureTopic("restricted", core.TopicConfig{AllowedAgents: map[string]bool{"agent-a": true}})

	require.True(t, b.Publish(context.Background(), message("restricted", "agent-a", nil)).Success)

	res := b.Publish(context.Background(), message("restricted", "agent-b", nil))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPublishDenied)
}

func TestPublish_ImmediateDelivery(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts")

	res := b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"level": "warn"}))
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, 1, data["matched"])
	assert.Equal(t, 1, data["delivered"])

	deliveries := h.deliveries()
	require.Len(t, deliveries, 1)
	require.Len(t, deliveries[0], 1)
	assert.Equal(t, "warn", deliveries[0][0].Payload["level"])
	assert.NotEmpty(t, deliveries[0][0].MessageID)
}

func TestPublish_NoHandlerDropsMessage(t *testing.T) {
	b := New()
	b.Subscribe("agent-b", "alerts")

	res := b.Publish(context.Background(), message("alerts", "agent-a", nil))
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, 1, data["matched"])
	assert.Equal(t, 0, data["delivered"], "no handler means the message is dropped, not an error")
}

func TestPublish_HandlerFailureDoesNotFailPublish(t *testing.T) {
	b := New()
	h := &recordingHandler{err: errors.New("downstream unavailable")}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts")

	res := b.Publish(context.Background(), message("alerts", "agent-a", nil))
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Data.(map[string]any)["delivered"])
}

func TestPublish_HandlerPanicIsolated(t *testing.T) {
	b := New()
	b.RegisterHandler("agent-b", func(string, []core.PublishedMessage) error { panic("boom") })
	b.Subscribe("agent-b", "alerts")

	h := &recordingHandler{}
	b.RegisterHandler("agent-c", h.handle)
	b.Subscribe("agent-c", "alerts")

	res := b.Publish(context.Background(), message("alerts", "agent-a", nil))
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data.(map[string]any)["delivered"])
	assert.Len(t, h.deliveries(), 1)
}

func TestSubscribe_Filters(t *testing.T) {
	min, max := 5.0, 10.0

	tests := []struct {
		name    string
		filter  core.SubscriptionFilter
		payload map[string]any
		matched bool
	}{
		{
			name:    "equals match",
			filter:  core.SubscriptionFilter{Type: core.FilterEquals, FieldPath: "level", Value: "warn"},
			payload: map[string]any{"level": "warn"},
			matched: true,
		},
		{
			name:    "equals mismatch",
			filter:  core.SubscriptionFilter{Type: core.FilterEquals, FieldPath: "level", Value: "warn"},
			payload: map[string]any{"level": "info"},
			matched: false,
		},
		{
			name:    "absent field fails",
			filter:  core.SubscriptionFilter{Type: core.FilterEquals, FieldPath: "level", Value: "warn"},
			payload: map[string]any{"other": true},
			matched: false,
		},
		{
			name:    "contains",
			filter:  core.SubscriptionFilter{Type: core.FilterContains, FieldPath: "msg", Value: "disk"},
			payload: map[string]any{"msg": "disk pressure on node-3"},
			matched: true,
		},
		{
			name:    "regex",
			filter:  core.SubscriptionFilter{Type: core.FilterRegex, FieldPath: "host", Value: `^node-\d+$`},
			payload: map[string]any{"host": "node-12"},
			matched: true,
		},
		{
			name:    "range inside",
			filter:  core.SubscriptionFilter{Type: core.FilterRange, FieldPath: "cpu", Min: &min, Max: &max},
			payload: map[string]any{"cpu": 7},
			matched: true,
		},
		{
			name:    "range outside",
			filter:  core.SubscriptionFilter{Type: core.FilterRange, FieldPath: "cpu", Min: &min, Max: &max},
			payload: map[string]any{"cpu": 12},
			matched: false,
		},
		{
			name: "custom predicate",
			filter: core.SubscriptionFilter{Type: core.FilterCustom, FieldPath: "level", Predicate: func(v any) bool {
				return v == "error"
			}},
			payload: map[string]any{"level": "error"},
			matched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			h := &recordingHandler{}
			b.RegisterHandler("agent-b", h.handle)
			b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
				o.Filters = []core.SubscriptionFilter{tt.filter}
			})

			res := b.Publish(context.Background(), message("alerts", "agent-a", tt.payload))
			require.True(t, res.Success)
			assert.Equal(t, tt.matched, len(h.deliveries()) == 1)
		})
	}
}

func TestSubscribe_FiltersAreANDCombined(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.Filters = []core.SubscriptionFilter{
			{Type: core.FilterEquals, FieldPath: "level", Value: "warn"},
			{Type: core.FilterEquals, FieldPath: "host", Value: "node-1"},
		}
	})

	require.True(t, b.Publish(context.Background(),
		message("alerts", "agent-a", map[string]any{"level": "warn", "host": "node-2"})).Success)
	assert.Empty(t, h.deliveries(), "one failing filter rejects the message")

	require.True(t, b.Publish(context.Background(),
		message("alerts", "agent-a", map[string]any{"level": "warn", "host": "node-1"})).Success)
	assert.Len(t, h.deliveries(), 1)
}

func TestSubscribe_FilterAgainstContextFields(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.Filters = []core.SubscriptionFilter{
			{Type: core.FilterEquals, FieldPath: "status", Value: "active"},
		}
	})

	msg := message("alerts", "agent-a", nil)
	msg.Context = core.NewAgentContext("agent-a")
	msg.Context.Fields["status"] = "active"

	res := b.Publish(context.Background(), msg)
	require.True(t, res.Success)
	assert.Len(t, h.deliveries(), 1, "fields fall back to the attached context")
}

func TestBatchDelivery_FlushOnSize(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.DeliveryMode = core.DeliveryBatch
		o.MaxBatchSize = 3
		o.BatchTimeout = time.Minute
	})

	for i := 0; i < 2; i++ {
		require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"n": i})).Success)
	}
	assert.Empty(t, h.deliveries(), "below the batch size nothing is delivered")

	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"n": 2})).Success)

	deliveries := h.deliveries()
	require.Len(t, deliveries, 1)
	require.Len(t, deliveries[0], 3)
	assert.Equal(t, 0, deliveries[0][0].Payload["n"], "batch preserves publish order")
	assert.Equal(t, 2, deliveries[0][2].Payload["n"])
}

func TestBatchDelivery_FlushOnTimeout(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.DeliveryMode = core.DeliveryBatch
		o.MaxBatchSize = 100
		o.BatchTimeout = 20 * time.Millisecond
	})

	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"n": 1})).Success)

	assert.Eventually(t, func() bool {
		return len(h.deliveries()) == 1
	}, time.Second, 5*time.Millisecond, "partial batch flushes when the timeout fires")
	require.Len(t, h.deliveries()[0], 1)
}

func TestFlushBatches(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.DeliveryMode = core.DeliveryBatch
		o.MaxBatchSize = 100
		o.BatchTimeout = time.Minute
	})

	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", nil)).Success)
	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", nil)).Success)

	b.FlushBatches()

	deliveries := h.deliveries()
	require.Len(t, deliveries, 1)
	assert.Len(t, deliveries[0], 2)
}

func TestSubscribe_Idempotent(t *testing.T) {
	b := New()

	first := b.Subscribe("agent-b", "alerts")
	second := b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.DeliveryMode = core.DeliveryBatch
	})

	assert.Equal(t, first.SubscriptionID, second.SubscriptionID, "resubscribing updates in place")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, core.DeliveryBatch, second.DeliveryMode)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts")
	b.Unsubscribe("agent-b", "alerts")

	res := b.Publish(context.Background(), message("alerts", "agent-a", nil))
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Data.(map[string]any)["matched"])
	assert.Empty(t, h.deliveries())
}

func TestUnsubscribe_FlushesPendingBatch(t *testing.T) {
	b := New()
	h := &recordingHandler{}
	b.RegisterHandler("agent-b", h.handle)
	b.Subscribe("agent-b", "alerts", func(o *SubscribeOptions) {
		o.DeliveryMode = core.DeliveryBatch
		o.MaxBatchSize = 100
		o.BatchTimeout = time.Minute
	})

	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", nil)).Success)
	b.Unsubscribe("agent-b", "alerts")

	require.Len(t, h.deliveries(), 1)
}

func TestRetention_TrimByCount(t *testing.T) {
	b := New()
	b.ConfigureTopic("alerts", core.TopicConfig{MaxMessages: 2})

	for i := 0; i < 4; i++ {
		require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"n": i})).Success)
	}

	msgs := b.Messages("alerts", 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, msgs[0].Payload["n"], "oldest messages trimmed first")
	assert.Equal(t, 3, msgs[1].Payload["n"])

	topic, _ := b.Topic("alerts")
	assert.Equal(t, 4, topic.MessageCount, "the lifetime counter survives trimming")
}

func TestSweepMessages_TrimByAge(t *testing.T) {
	b := New()
	b.ConfigureTopic("alerts", core.TopicConfig{MaxAge: 10 * time.Millisecond})

	require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", nil)).Success)
	require.Len(t, b.Messages("alerts", 0), 1)

	// Age the retained message past the limit.
	b.mu.Lock()
	b.topics["alerts"].messages[0].PublishedAt = time.Now().UTC().Add(-time.Minute)
	b.mu.Unlock()

	b.SweepMessages()
	assert.Empty(t, b.Messages("alerts", 0))
}

func TestMessages_Limit(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		require.True(t, b.Publish(context.Background(), message("alerts", "agent-a", map[string]any{"n": i})).Success)
	}

	msgs := b.Messages("alerts", 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Payload["n"], "limit returns the most recent, oldest first")

	assert.Nil(t, b.Messages("unknown", 0))
}
