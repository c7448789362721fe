package orchestrate

import (
	"sync"
)

// Registry holds the live attempts, at most one per order. Each attempt owns
// its own state and caches; nothing is shared between attempts.
type Registry struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
	deps     Deps
}

// NewRegistry constructs a registry creating attempts with the given
// collaborators.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		attempts: make(map[string]*Attempt),
		deps:     deps,
	}
}

// GetOrCreate returns the live attempt for the order, creating one when none
// exists. It reports whether the attempt was created by this call.
func (reg *Registry) GetOrCreate(order Order) (*Attempt, bool, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.attempts[order.ID]; ok {
		return existing, false, nil
	}
	attempt, err := NewAttempt(order, reg.deps)
	if err != nil {
		return nil, false, err
	}
	reg.attempts[order.ID] = attempt
	return attempt, true, nil
}

// Get returns the live attempt for the order id, if any.
func (reg *Registry) Get(orderID string) (*Attempt, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	attempt, ok := reg.attempts[orderID]
	return attempt, ok
}

// Remove drops the attempt for the order id.
func (reg *Registry) Remove(orderID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.attempts, orderID)
}
