// Package routing selects target agents for a context by capability,
// proximity or load. Candidate pools are filtered to healthy agents (seen
// recently, minimally available) satisfying every required capability, then
// scored by the configured strategy.
//
// Load is tracked as a leaky bucket: each routed call adds one unit and a
// periodic decay task drains one unit per second. This is a coarse proxy for
// completion, not a real signal; callers that need fidelity should invoke
// ReleaseLoad when work finishes instead of relying on decay.
package routing
