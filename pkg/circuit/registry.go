package circuit

import (
	"sync"

	"github.com/agentfabric/fabric/pkg/config"
)

// Registry is the process-wide directory of breakers keyed by dependency
// name. Creation is idempotent by name; a name maps to exactly one breaker
// for the registry's lifetime.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for name, creating it with cfg on first
// use. Subsequent calls ignore cfg and return the existing breaker.
func (r *Registry) GetOrCreate(name string, cfg config.CircuitConfig) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[name]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if b, exists = r.breakers[name]; exists {
		return b
	}
	b = NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// Get returns the breaker for name, or nil when absent.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Remove deregisters a breaker. Reserved for shutdown paths.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Names returns the registered breaker names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// AllStatus returns a snapshot per breaker, keyed by name.
func (r *Registry) AllStatus() map[string]Status {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	// Snapshot outside the registry lock; each breaker locks itself.
	result := make(map[string]Status, len(breakers))
	for _, b := range breakers {
		result[b.Name()] = b.Status()
	}
	return result
}

// Close resets and removes every breaker. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, b := range r.breakers {
		b.Reset()
		delete(r.breakers, name)
	}
}
