package pubsub

import "errors"

var (
	// ErrPublishDenied indicates the topic restricts publishers and the
	// agent is not on the allow list.
	ErrPublishDenied = errors.New("agent not allowed to publish to topic")
	// ErrNoHandler indicates delivery was attempted for an agent without a
	// registered handler.
	ErrNoHandler = errors.New("no delivery handler registered for agent")
)
