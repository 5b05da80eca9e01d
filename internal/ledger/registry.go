// ABOUTME: Conversation key to ledger mapping with lazy creation
// ABOUTME: Owned by the caller and cleared on shutdown

package ledger

import (
	"sort"
	"sync"
)

// Registry owns one Ledger per conversation key.
type Registry struct {
	mu       sync.Mutex
	ledgers  map[string]*Ledger
	capacity int
}

// NewRegistry creates an empty registry whose ledgers hold capacity entries.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		ledgers:  make(map[string]*Ledger),
		capacity: capacity,
	}
}

// Get returns the ledger for key, creating it on first access.
func (r *Registry) Get(key string) *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[key]
	if !ok {
		l = New(r.capacity)
		r.ledgers[key] = l
	}
	return l
}

// Lookup returns the ledger for key without creating one.
func (r *Registry) Lookup(key string) (*Ledger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.ledgers[key]
	return l, ok
}

// Keys returns the known conversation keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.ledgers))
	for k := range r.ledgers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear forgets every conversation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.ledgers {
		l.Clear()
	}
	r.ledgers = make(map[string]*Ledger)
}
