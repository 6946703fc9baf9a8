package core

import "context"

// Transport delivers a context update to a single peer agent. ContextMesh
// implements no network transport of its own; callers inject one carrying
// their own wire format, timeouts and retries. A nil error is the ack.
//
// Implementations should honor ctx cancellation: fan-out callers bound every
// delivery with their configured sync timeout.
type Transport interface {
	Send(ctx context.Context, target string, update ContextUpdate) error
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(ctx context.Context, target string, update ContextUpdate) error

// Send calls the wrapped function.
func (f TransportFunc) Send(ctx context.Context, target string, update ContextUpdate) error {
	return f(ctx, target, update)
}

// NoOpTransport discards every update. Useful for tests and for manual
// synchronization modes where no propagation should occur.
type NoOpTransport struct{}

// Send discards the update.
func (NoOpTransport) Send(context.Context, string, ContextUpdate) error { return nil }
