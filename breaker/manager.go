package breaker

import (
	"sort"
	"sync"
)

/* Manager is the registry of breakers for one process
 * It is built by the composition root and passed to whoever needs a breaker,
 * so tests can hold isolated instances
 */
type Manager struct {
	defaults []Option

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewManager creates a registry whose breakers start from the given options
func NewManager(defaults ...Option) *Manager {
	return &Manager{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
// Options only apply when the breaker is created.
func (m *Manager) Get(name string, opts ...Option) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	all := make([]Option, 0, len(m.defaults)+len(opts))
	all = append(all, m.defaults...)
	all = append(all, opts...)
	cb = New(name, all...)
	m.breakers[name] = cb
	return cb
}

// Lookup returns an existing breaker without creating one
func (m *Manager) Lookup(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Statuses returns the health of every known breaker, sorted by name
func (m *Manager) Statuses() []HealthStatus {
	m.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		list = append(list, cb)
	}
	m.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(list))
	for _, cb := range list {
		statuses = append(statuses, cb.HealthStatus())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Reset closes a single breaker; it reports false when name is unknown
func (m *Manager) Reset(name string) bool {
	cb, ok := m.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

func (m *Manager) ResetAll() {
	m.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		list = append(list, cb)
	}
	m.mu.RUnlock()

	for _, cb := range list {
		cb.Reset()
	}
}
