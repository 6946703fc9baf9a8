package core

import "time"

// DeliveryMode controls how published messages reach a subscriber.
type DeliveryMode string

const (
	// DeliveryImmediate delivers synchronously on every publish.
	DeliveryImmediate DeliveryMode = "immediate"
	// DeliveryBatch accumulates messages until the batch size or timeout is
	// reached, then flushes them as one unit.
	DeliveryBatch DeliveryMode = "batch"
	// DeliveryDelayed currently behaves identically to immediate; the
	// intended delay semantics are an open question, do not assume them.
	DeliveryDelayed DeliveryMode = "delayed"
)

// FilterType enumerates subscription filter predicates.
type FilterType string

const (
	// FilterEquals passes when the field equals the filter value.
	FilterEquals FilterType = "equals"
	// FilterContains passes on substring containment of the string forms.
	FilterContains FilterType = "contains"
	// FilterRegex passes when the field's string form matches the pattern.
	FilterRegex FilterType = "regex"
	// FilterRange passes when the numeric field lies within [Min,Max].
	FilterRange FilterType = "range"
	// FilterCustom delegates to the caller-supplied predicate.
	FilterCustom FilterType = "custom"
)

// SubscriptionFilter is one predicate of a subscription. Filters are
// AND-combined; the field is looked up in the message payload first, then the
// attached context fields, then the attached update. A field absent from all
// three fails the filter.
type SubscriptionFilter struct {
	Type      FilterType     `json:"type"`
	FieldPath string         `json:"field_path"`
	Value     any            `json:"value,omitempty"`
	Min       *float64       `json:"min,omitempty"`
	Max       *float64       `json:"max,omitempty"`
	Predicate func(any) bool `json:"-"`
}

// Subscription binds an agent to a topic with delivery preferences. One
// subscription exists per (agent, topic); resubscribing updates it in place.
type Subscription struct {
	SubscriptionID string               `json:"subscription_id"`
	AgentID        string               `json:"agent_id"`
	Topic          string               `json:"topic"`
	Filters        []SubscriptionFilter `json:"filters,omitempty"`
	DeliveryMode   DeliveryMode         `json:"delivery_mode"`
	MaxBatchSize   int                  `json:"max_batch_size,omitempty"`
	BatchTimeout   time.Duration        `json:"batch_timeout,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// PublishedMessage is one message accepted by a topic. It may carry a shared
// context snapshot and/or a context update alongside the free-form payload.
type PublishedMessage struct {
	MessageID   string         `json:"message_id"`
	Topic       string         `json:"topic"`
	PublishedBy string         `json:"published_by"`
	Payload     map[string]any `json:"payload,omitempty"`
	Context     *AgentContext  `json:"context,omitempty"`
	Update      *ContextUpdate `json:"update,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
}

// TopicConfig holds per-topic retention and access settings. Topics created
// implicitly on first use receive the default retention (1000 messages or
// 24h, whichever trips first) and open access.
type TopicConfig struct {
	MaxMessages   int             `json:"max_messages"`
	MaxAge        time.Duration   `json:"max_age"`
	AllowedAgents map[string]bool `json:"allowed_agents,omitempty"`
}

// Open reports whether the topic accepts publishes from any agent.
func (c TopicConfig) Open() bool { return len(c.AllowedAgents) == 0 }

// Allows reports whether agentID may publish to the topic.
func (c TopicConfig) Allows(agentID string) bool {
	return c.Open() || c.AllowedAgents[agentID]
}

// Topic is the metadata record for one pub/sub topic.
type Topic struct {
	Name         string      `json:"name"`
	Config       TopicConfig `json:"config"`
	CreatedAt    time.Time   `json:"created_at"`
	MessageCount int         `json:"message_count"`
}
