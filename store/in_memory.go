package store

import (
	"sync"

	"github.com/hupe1980/contextmesh/core"
)

// InMemoryStore is a volatile ContextStore implementation storing context
// snapshots in a process local map. It is safe for concurrent access and best
// suited for tests or single-process deployments. Each snapshot is cloned on
// both write and read to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*core.AgentContext
}

// NewInMemoryStore constructs an empty in-memory context store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contexts: make(map[string]*core.AgentContext)}
}

// Get returns a clone of the stored snapshot for agentID or core.ErrNotFound.
func (s *InMemoryStore) Get(agentID string) (*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contexts[agentID]; ok {
		return c.Clone(), nil
	}
	return nil, core.ErrNotFound
}

// Put stores a clone of the provided snapshot, replacing any existing one.
func (s *InMemoryStore) Put(context *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[context.AgentID] = context.Clone()
	return nil
}

// Delete removes the snapshot for agentID. Absent snapshots are ignored.
func (s *InMemoryStore) Delete(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, agentID)
	return nil
}

// List returns clones of every stored snapshot in unspecified order.
func (s *InMemoryStore) List() ([]*core.AgentContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.AgentContext, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.Clone())
	}
	return out, nil
}
