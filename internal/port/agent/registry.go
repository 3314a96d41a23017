package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent ids to instances. It is built once per orchestrator.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates a registry holding the given agents.
// Duplicate ids are rejected.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an agent under its ID.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID()
	if id == "" {
		return fmt.Errorf("agent: empty id")
	}
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("agent: duplicate registration for %q", id)
	}
	r.agents[id] = a
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// IDs returns the registered agent ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
