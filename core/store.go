package core

// ContextStore persists agent context snapshots keyed by agent id. The
// interface is intentionally narrow (get/put/delete/iterate) so a deployment
// can back it with a distributed store without touching the components.
//
// Implementations MUST return and accept independent snapshots: a stored
// context may never alias a caller-held one.
type ContextStore interface {
	// Get returns the stored snapshot for agentID or ErrNotFound.
	Get(agentID string) (*AgentContext, error)

	// Put stores a snapshot, replacing any existing one for the same agent.
	Put(context *AgentContext) error

	// Delete removes the snapshot for agentID. Deleting an absent snapshot
	// is not an error.
	Delete(agentID string) error

	// List returns snapshots for all stored agents in unspecified order.
	List() ([]*AgentContext, error)
}
