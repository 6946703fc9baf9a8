// Package store contains concrete ContextStore implementations. The store
// interface and AgentContext type reside in the core package. Import
// github.com/hupe1980/contextmesh/core and depend on core.ContextStore in
// your code; select an implementation (like the in-memory store below) at
// wiring time.
//
// Rationale: keeps domain contracts centralized while allowing pluggable
// backends (distributed KV stores, replicated caches, etc.) to be added
// without introducing dependency cycles.
package store
