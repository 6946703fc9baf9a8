// Package logging provides a minimal logging interface and adapters for ContextMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that coordination components use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - ContextMeshLogger with contextual helpers for groups, agents and components
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := contextmesh.New(func(o *contextmesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
