// Package sharing gates which context state may be exchanged between agents.
// Sharing stores an independent, permission-filtered copy per target agent:
// field allow/deny lists and anonymization are applied at share time, access
// conditions (equals/contains/regex/custom) at read time.
//
// Subscribers registered for an owner's context receive synchronous,
// best-effort change notifications; a panicking subscriber is recovered and
// logged and never blocks the others. A periodic sweep purges expired
// permissions and removes (or archives) shared copies past the retention
// period.
package sharing
