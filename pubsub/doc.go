// Package pubsub implements topic-based message distribution between agents.
// Topics are created implicitly on first use with default retention (1000
// messages or 24h) and may be reconfigured with per-agent publish
// restrictions. Subscriptions are unique per (agent, topic) and carry
// AND-combined filters plus a delivery mode: immediate, batch (flushed on
// size or timeout) or delayed. Delivery is best-effort and isolated; a
// failing handler never affects other subscribers.
package pubsub
